package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/born-ml/torchbind/internal/serialization"
	"github.com/born-ml/torchbind/nn"
	"golang.org/x/sync/errgroup"
)

func versionCmd(fs *flag.FlagSet) runFunc {
	return func(_ context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 0, 0); err != nil {
			return err
		}
		rt, err := a.openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		v, err := rt.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "torchbind %s\n", version)
		fmt.Fprintf(a.out, "engine    %s (%s)\n", v, rt.LibraryName())
		fmt.Fprintf(a.out, "host      %s\n", hostString())
		return nil
	}
}

// headerJSON is the -json output of inspect.
type headerJSON struct {
	Location string               `json:"location"`
	Codec    string               `json:"codec"`
	Flags    uint32               `json:"flags"`
	Payload  uint64               `json:"payload_bytes"`
	Checksum string               `json:"checksum"`
	Header   serialization.Header `json:"header"`
}

func inspectCmd(fs *flag.FlagSet) runFunc {
	asJSON := fs.Bool("json", false, "Print the header as JSON")

	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 1, 1); err != nil {
			return err
		}
		loc, err := parseLocation(ctx, args[0])
		if err != nil {
			return err
		}
		rc, err := loc.store.Get(ctx, loc.name)
		if err != nil {
			return err
		}
		defer rc.Close()

		fixed, header, err := serialization.ReadHeader(rc, serialization.ReaderOptions{})
		if err != nil {
			return fmt.Errorf("%s: %w", loc, err)
		}

		if *asJSON {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(headerJSON{
				Location: loc.String(),
				Codec:    fixed.Codec.String(),
				Flags:    fixed.Flags,
				Payload:  fixed.PayloadSize,
				Checksum: fmt.Sprintf("%x", fixed.Checksum),
				Header:   header,
			})
		}
		printHeader(a.out, loc, fixed, header)
		return nil
	}
}

func printHeader(w io.Writer, loc location, fixed serialization.FixedHeader, header serialization.Header) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	matching := "order and name"
	if fixed.Flags&serialization.FlagIgnoreNames != 0 {
		matching = "order only"
	}
	fmt.Fprintf(tw, "location:\t%s\n", loc)
	fmt.Fprintf(tw, "module:\t%s\n", header.ModuleType)
	fmt.Fprintf(tw, "created:\t%s by %s\n", header.CreatedAt.Format(time.RFC3339), header.CreatedBy)
	fmt.Fprintf(tw, "codec:\t%s\n", fixed.Codec)
	fmt.Fprintf(tw, "matching:\t%s\n", matching)
	fmt.Fprintf(tw, "payload:\t%d bytes, sha256 %s\n", fixed.PayloadSize, serialization.ShortChecksum(fixed.Checksum))
	fmt.Fprintf(tw, "tensors:\t%d\n", len(header.Tensors))
	for _, t := range header.Tensors {
		fmt.Fprintf(tw, "  %s\t%v\t%s\t%d bytes\n", t.Name, t.Shape, t.DType, t.Size)
	}
	if len(header.Metadata) > 0 {
		fmt.Fprintln(tw, "metadata:")
		keys := make([]string, 0, len(header.Metadata))
		for k := range header.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "  %s\t%s\n", k, header.Metadata[k])
		}
	}
}

type verifyResult struct {
	summary string
	err     error
}

func verifyCmd(fs *flag.FlagSet) runFunc {
	jobs := fs.Int("j", runtime.GOMAXPROCS(0), "Streams verified concurrently")

	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 1, -1); err != nil {
			return err
		}

		results := make([]verifyResult, len(args))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(*jobs, 1))
		for i, raw := range args {
			g.Go(func() error {
				summary, err := verifyOne(gctx, raw)
				results[i] = verifyResult{summary: summary, err: err}
				if err != nil {
					a.log.WarnContext(gctx, "verification failed", "location", raw, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		failed := 0
		for i, r := range results {
			if r.err != nil {
				failed++
				fmt.Fprintf(a.out, "FAIL  %s: %v\n", args[i], r.err)
				continue
			}
			fmt.Fprintf(a.out, "OK    %s (%s)\n", args[i], r.summary)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d streams failed verification", failed, len(args))
		}
		return nil
	}
}

func verifyOne(ctx context.Context, raw string) (string, error) {
	loc, err := parseLocation(ctx, raw)
	if err != nil {
		return "", err
	}
	rc, err := loc.store.Get(ctx, loc.name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	file, err := serialization.Read(rc, serialization.ReaderOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %d tensors, %s, %d bytes",
		file.Header.ModuleType, len(file.Tensors), file.Fixed.Codec, file.Fixed.PayloadSize), nil
}

func convertCmd(fs *flag.FlagSet) runFunc {
	codecName := fs.String("codec", "zstd", "Target codec: none, zstd or lz4")
	orderOnly := fs.Bool("order-only", false, "Mark the output for order-only loading")

	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 2, 2); err != nil {
			return err
		}
		codec, err := serialization.ParseCodec(*codecName)
		if err != nil {
			return err
		}
		src, err := parseLocation(ctx, args[0])
		if err != nil {
			return err
		}
		dst, err := parseLocation(ctx, args[1])
		if err != nil {
			return err
		}

		file, err := readFile(ctx, src)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		n, err := serialization.Write(&buf, file.Tensors, serialization.WriterOptions{
			Codec:       codec,
			ModuleType:  file.Header.ModuleType,
			Metadata:    file.Header.Metadata,
			IgnoreNames: *orderOnly || file.Fixed.Flags&serialization.FlagIgnoreNames != 0,
		})
		if err != nil {
			return err
		}
		if err := dst.store.Put(ctx, dst.name, bytes.NewReader(buf.Bytes()), n); err != nil {
			return err
		}
		a.log.InfoContext(ctx, "stream converted", "src", src.String(), "dst", dst.String(), "codec", codec.String(), "bytes", n)
		fmt.Fprintf(a.out, "%s -> %s (%s, %d bytes)\n", src, dst, codec, n)
		return nil
	}
}

func readFile(ctx context.Context, loc location) (*serialization.File, error) {
	rc, err := loc.store.Get(ctx, loc.name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	file, err := serialization.Read(rc, serialization.ReaderOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return file, nil
}

func copyCmd(fs *flag.FlagSet) runFunc {
	verify := fs.Bool("verify", true, "Decode and checksum the stream before writing it")

	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 2, 2); err != nil {
			return err
		}
		src, err := parseLocation(ctx, args[0])
		if err != nil {
			return err
		}
		dst, err := parseLocation(ctx, args[1])
		if err != nil {
			return err
		}

		rc, err := src.store.Get(ctx, src.name)
		if err != nil {
			return err
		}
		defer rc.Close()

		if !*verify {
			if err := dst.store.Put(ctx, dst.name, rc, -1); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s -> %s\n", src, dst)
			return nil
		}

		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if _, err := serialization.DecodeBytes(data, serialization.ReaderOptions{}); err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		if err := dst.store.Put(ctx, dst.name, bytes.NewReader(data), int64(len(data))); err != nil {
			return err
		}
		a.log.InfoContext(ctx, "stream copied", "src", src.String(), "dst", dst.String(), "bytes", len(data))
		fmt.Fprintf(a.out, "%s -> %s (%d bytes)\n", src, dst, len(data))
		return nil
	}
}

func listCmd(fs *flag.FlagSet) runFunc {
	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 1, 1); err != nil {
			return err
		}
		loc, err := parsePrefix(ctx, args[0])
		if err != nil {
			return err
		}
		names, err := loc.store.List(ctx, loc.name)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(a.out, name)
		}
		return nil
	}
}

func sampleCmd(fs *flag.FlagSet) runFunc {
	layers := fs.String("layers", "784,128,10", "Comma separated layer widths")
	codecName := fs.String("codec", "none", "Codec: none, zstd or lz4")
	seed := fs.Int64("seed", -1, "Engine seed (negative keeps the engine default)")

	return func(ctx context.Context, a *app, args []string) error {
		if err := expectArgs(fs, args, 1, 1); err != nil {
			return err
		}
		widths, err := parseWidths(*layers)
		if err != nil {
			return err
		}
		codec, err := serialization.ParseCodec(*codecName)
		if err != nil {
			return err
		}
		dst, err := parseLocation(ctx, args[0])
		if err != nil {
			return err
		}

		rt, err := a.openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		if *seed >= 0 {
			if err := rt.Seed(*seed); err != nil {
				return err
			}
		}

		model, release, err := buildMLP(rt, widths)
		if err != nil {
			return err
		}
		defer release()

		err = model.SaveTo(ctx, dst.store, dst.name,
			nn.WithCodec(codec),
			nn.WithMetadata(map[string]string{"layers": *layers}),
		)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "saved %s: %s\n", dst, model)
		return nil
	}
}

func parseWidths(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("layers %q: need at least two widths", s)
	}
	widths := make([]int64, len(parts))
	for i, p := range parts {
		w, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("layers %q: invalid width %q", s, p)
		}
		widths[i] = w
	}
	return widths, nil
}
