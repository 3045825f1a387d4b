// Package parallel splits independent loop iterations across goroutines.
//
// Iterations must write disjoint memory. Each iteration runs on exactly one
// goroutine, so results do not depend on the worker count.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a loop is split.
type Config struct {
	Workers int // Goroutines per loop; 1 or less runs inline.
	Grain   int // Minimum iterations per goroutine.
}

// Default uses one worker per schedulable CPU.
func Default() Config {
	return Config{
		Workers: runtime.GOMAXPROCS(0),
		Grain:   8,
	}
}

// Serial runs every loop on the calling goroutine.
func Serial() Config {
	return Config{Workers: 1}
}

// For calls f(i) for every i in [0, n).
func For(n int, cfg Config, f func(i int)) {
	grain := max(cfg.Grain, 1)
	if cfg.Workers <= 1 || n <= grain {
		for i := range n {
			f(i)
		}
		return
	}

	chunk := max((n+cfg.Workers-1)/cfg.Workers, grain)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Go(func() {
			for i := start; i < end; i++ {
				f(i)
			}
		})
	}
	wg.Wait()
}

// Planes calls f(n, c) for every sample n and channel c, the iteration
// pattern of convolution and normalization kernels.
func Planes(batch, channels int, cfg Config, f func(n, c int)) {
	if channels <= 0 {
		return
	}
	For(batch*channels, cfg, func(k int) {
		f(k/channels, k%channels)
	})
}
