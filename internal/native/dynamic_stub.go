//go:build !((!cgo && (linux || freebsd || darwin) && (amd64 || arm64)) || (windows && amd64))

package native

// Open reports ErrUnsupportedPlatform: goffi needs CGO_ENABLED=0 and a
// supported OS/architecture pair.
func Open(path string) (Library, error) {
	_ = path
	return nil, ErrUnsupportedPlatform
}
