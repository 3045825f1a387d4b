package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/born-ml/torchbind/internal/serialization"
	"github.com/born-ml/torchbind/store"
	"github.com/born-ml/torchbind/store/minio"
	"github.com/born-ml/torchbind/torch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(torch.EnvLibrary, "")
	t.Setenv(torch.EnvLogLevel, "")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "torchbind "+version)
	assert.Contains(t, out, "refnative")
	assert.Contains(t, out, "host      "+runtime.GOOS+"/"+runtime.GOARCH)
}

func TestUsage(t *testing.T) {
	out, _, err := runCLI(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "verify")

	_, stderr, err := runCLI(t, "train")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, `unknown command "train"`)

	_, stderr, err = runCLI(t, "inspect")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, "Usage: torchbind inspect")
}

func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "mlp.thsp")

	out, _, err := runCLI(t, "sample", "-layers", "8,4,2", "-seed", "3", model)
	require.NoError(t, err)
	assert.Contains(t, out, "Sequential(lin1: Linear(in_features=8, out_features=4, bias=true)")

	out, _, err = runCLI(t, "inspect", model)
	require.NoError(t, err)
	assert.Contains(t, out, "Sequential")
	assert.Contains(t, out, "lin2.bias")
	assert.Contains(t, out, "8,4,2")

	out, _, err = runCLI(t, "inspect", "-json", model)
	require.NoError(t, err)
	var decoded headerJSON
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "none", decoded.Codec)
	assert.Len(t, decoded.Header.Tensors, 4)

	packed := filepath.Join(dir, "mlp.zst.thsp")
	out, _, err = runCLI(t, "convert", "-codec", "zstd", model, packed)
	require.NoError(t, err)
	assert.Contains(t, out, "zstd")

	original := readStream(t, model)
	converted := readStream(t, packed)
	assert.Equal(t, serialization.CodecZstd, converted.Fixed.Codec)
	assert.Equal(t, original.Tensors, converted.Tensors)
	assert.Equal(t, original.Header.Metadata, converted.Header.Metadata)

	copied := filepath.Join(dir, "backup", "mlp.thsp")
	_, _, err = runCLI(t, "copy", packed, "file://"+copied)
	require.NoError(t, err)
	assert.Equal(t, converted.Tensors, readStream(t, copied).Tensors)

	out, _, err = runCLI(t, "verify", "-j", "2", model, packed, copied)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte("OK ")))

	out, _, err = runCLI(t, "list", dir)
	require.NoError(t, err)
	assert.Equal(t, "backup/mlp.thsp\nmlp.thsp\nmlp.zst.thsp\n", out)
}

func TestSampleReproducible(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.thsp"), filepath.Join(dir, "b.thsp")

	_, _, err := runCLI(t, "sample", "-layers", "4,3", "-seed", "11", a)
	require.NoError(t, err)
	_, _, err = runCLI(t, "sample", "-layers", "4,3", "-seed", "11", b)
	require.NoError(t, err)
	assert.Equal(t, readStream(t, a).Tensors, readStream(t, b).Tensors)
}

func TestVerifyFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.thsp")
	bad := filepath.Join(dir, "bad.thsp")

	_, _, err := runCLI(t, "sample", "-layers", "4,2", good)
	require.NoError(t, err)
	data, err := os.ReadFile(good)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(bad, data, 0o600))

	out, _, err := runCLI(t, "verify", good, bad, filepath.Join(dir, "missing.thsp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3")
	assert.Contains(t, out, "OK    "+good)
	assert.Contains(t, out, "FAIL  "+bad)

	_, _, err = runCLI(t, "copy", bad, filepath.Join(dir, "copy.thsp"))
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "copy.thsp"))
	assert.ErrorIs(t, err, os.ErrNotExist, "corrupt streams are not copied")
}

func TestBadFlags(t *testing.T) {
	dir := t.TempDir()

	_, _, err := runCLI(t, "sample", "-layers", "4", filepath.Join(dir, "x.thsp"))
	assert.ErrorContains(t, err, "at least two widths")

	_, _, err = runCLI(t, "sample", "-codec", "brotli", filepath.Join(dir, "x.thsp"))
	assert.ErrorIs(t, err, serialization.ErrUnknownCodec)

	_, _, err = runCLI(t, "verify", "-j", "many", "x")
	assert.ErrorIs(t, err, errUsage)
}

func TestReadCommandsLeaveMissingDirs(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nowhere")

	_, _, err := runCLI(t, "inspect", filepath.Join(missing, "a", "mlp.thsp"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, _, err = runCLI(t, "verify", filepath.Join(missing, "b", "mlp.thsp"))
	assert.Error(t, err)
	out, _, err := runCLI(t, "list", filepath.Join(missing, "c"))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = os.Stat(missing)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = runCLI(t, "sample", "-layers", "4,2", filepath.Join(missing, "d", "mlp.thsp"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(missing, "d", "mlp.thsp"))
}

func TestParseLocation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	loc, err := parseLocation(ctx, filepath.Join(dir, "runs", "a.thsp"))
	require.NoError(t, err)
	assert.IsType(t, &store.Local{}, loc.store)
	assert.Equal(t, "a.thsp", loc.name)

	loc, err = parseLocation(ctx, "file://"+filepath.Join(dir, "b.thsp"))
	require.NoError(t, err)
	assert.Equal(t, "b.thsp", loc.name)
	assert.Equal(t, dir, loc.store.(*store.Local).Root())

	loc, err = parseLocation(ctx, "minio://localhost:9000/models/runs/c.thsp")
	require.NoError(t, err)
	assert.IsType(t, &minio.Store{}, loc.store)
	assert.Equal(t, "runs/c.thsp", loc.name)

	loc, err = parsePrefix(ctx, "minio://localhost:9000/models")
	require.NoError(t, err)
	assert.Empty(t, loc.name)

	for _, raw := range []string{"s3://bucket", "minio://localhost:9000/models", "ftp://host/x", ""} {
		_, err := parseLocation(ctx, raw)
		assert.Error(t, err, raw)
	}
}

func TestParseWidths(t *testing.T) {
	w, err := parseWidths("784, 128,10")
	require.NoError(t, err)
	assert.Equal(t, []int64{784, 128, 10}, w)

	for _, s := range []string{"", "10", "10,0", "10,x"} {
		_, err := parseWidths(s)
		assert.Error(t, err, s)
	}
}

func readStream(t *testing.T, path string) *serialization.File {
	t.Helper()
	file, err := serialization.ReadFile(path, serialization.ReaderOptions{})
	require.NoError(t, err)
	return file
}
