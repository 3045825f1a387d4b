package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/torchbind/store"
	"github.com/born-ml/torchbind/store/minio"
	"github.com/born-ml/torchbind/store/s3"
)

// Environment variables read for minio:// locations.
const (
	envMinioAccessKey = "MINIO_ACCESS_KEY"
	envMinioSecretKey = "MINIO_SECRET_KEY"
	envMinioSecure    = "MINIO_SECURE"
)

// location is a blob inside a store.
type location struct {
	store store.Store
	name  string
	raw   string
}

func (l location) String() string {
	return l.raw
}

// parseLocation resolves one of
//
//	path/to/file.thsp
//	file:///abs/path/file.thsp
//	s3://bucket/key
//	minio://host:port/bucket/key
func parseLocation(ctx context.Context, raw string) (location, error) {
	return resolve(ctx, raw, false)
}

// parsePrefix resolves a store and a name prefix for listing. Local paths
// name the directory to list.
func parsePrefix(ctx context.Context, raw string) (location, error) {
	return resolve(ctx, raw, true)
}

func resolve(ctx context.Context, raw string, prefix bool) (location, error) {
	if !strings.Contains(raw, "://") {
		return localLocation(raw, raw, prefix)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return location{}, fmt.Errorf("parse %q: %w", raw, err)
	}

	switch u.Scheme {
	case "file":
		return localLocation(u.Host+u.Path, raw, prefix)

	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || (key == "" && !prefix) {
			return location{}, fmt.Errorf("%q: expected s3://bucket/key", raw)
		}
		st, err := s3.New(ctx, u.Host, "")
		if err != nil {
			return location{}, err
		}
		return location{store: st, name: key, raw: raw}, nil

	case "minio":
		bucket, key, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" || (key == "" && !prefix) {
			return location{}, fmt.Errorf("%q: expected minio://host:port/bucket/key", raw)
		}
		st, err := minio.New(minio.Options{
			Endpoint:  u.Host,
			AccessKey: os.Getenv(envMinioAccessKey),
			SecretKey: os.Getenv(envMinioSecretKey),
			Secure:    os.Getenv(envMinioSecure) == "true",
			Bucket:    bucket,
		})
		if err != nil {
			return location{}, err
		}
		return location{store: st, name: key, raw: raw}, nil

	default:
		return location{}, fmt.Errorf("%q: unsupported scheme %q", raw, u.Scheme)
	}
}

func localLocation(path, raw string, prefix bool) (location, error) {
	if path == "" {
		return location{}, fmt.Errorf("%q: empty path", raw)
	}
	if prefix {
		st, err := store.OpenLocal(path)
		if err != nil {
			return location{}, err
		}
		return location{store: st, raw: raw}, nil
	}
	st, err := store.OpenLocal(filepath.Dir(path))
	if err != nil {
		return location{}, err
	}
	return location{store: st, name: filepath.Base(path), raw: raw}, nil
}
