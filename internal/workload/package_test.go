package workload

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWorkload(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// readArchive returns the entries of a gzip-compressed tar archive by name.
func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	entries := map[string][]byte{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = content
	}
	return entries
}

func TestPack(t *testing.T) {
	workloadBytes := []byte("\x7fELF fake binary contents")
	path := writeTestWorkload(t, "mandelbrot_rv64_O3.elf", workloadBytes)

	cfg := NewExperimentConfig("250831-120000_abc", "ignored", "I8500_(1_thread)")
	pkg, err := Pack(cfg, path)
	require.NoError(t, err)

	assert.Equal(t, "mandelbrot_rv64_O3.elf", pkg.Workload)
	assert.Equal(t, int64(len(pkg.Data)), pkg.Size)

	checksum := sha256.Sum256(pkg.Data)
	assert.Equal(t, hex.EncodeToString(checksum[:]), pkg.SHA256)

	entries := readArchive(t, pkg.Data)
	require.Len(t, entries, 2)
	assert.Equal(t, workloadBytes, entries["mandelbrot_rv64_O3.elf"])

	var decoded ExperimentConfig
	require.NoError(t, json.Unmarshal(entries["config.json"], &decoded))
	assert.Equal(t, "250831-120000_abc", decoded.UUID)
	assert.Equal(t, "I8500_(1_thread)", decoded.Core)
	// The config's workload name must match the packaged file, not whatever
	// the caller passed in.
	assert.Equal(t, "mandelbrot_rv64_O3.elf", decoded.Workload)
	assert.Equal(t, defaultTimeout, decoded.Timeout)
}

func TestPackMissingWorkload(t *testing.T) {
	cfg := NewExperimentConfig("exp", "a.elf", "I8500")
	_, err := Pack(cfg, filepath.Join(t.TempDir(), "does-not-exist.elf"))
	require.ErrorContains(t, err, "failed to read workload")
}

func TestUnpackRoundTrip(t *testing.T) {
	path := writeTestWorkload(t, "a.elf", []byte("binary"))
	pkg, err := Pack(NewExperimentConfig("exp", "a.elf", "I8500"), path)
	require.NoError(t, err)

	dest := t.TempDir()
	files, err := Unpack(pkg.Data, dest)
	require.NoError(t, err)
	require.Len(t, files, 2)

	content, err := os.ReadFile(filepath.Join(dest, "a.elf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("binary"), content)
}

func TestUnpackNestedEntries(t *testing.T) {
	data := buildArchive(t, map[string][]byte{
		"reports/summary.json": []byte(`{"cycles": 42}`),
		"reports/inst.json":    []byte(`{}`),
	})

	dest := t.TempDir()
	files, err := Unpack(data, dest)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	content, err := os.ReadFile(filepath.Join(dest, "reports", "summary.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"cycles": 42}`), content)
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil", "/etc/passwd", "reports/../../evil"} {
		t.Run(name, func(t *testing.T) {
			data := buildArchive(t, map[string][]byte{name: []byte("x")})
			_, err := Unpack(data, t.TempDir())
			require.ErrorContains(t, err, "escapes the target directory")
		})
	}
}

func TestUnpackRejectsGarbage(t *testing.T) {
	_, err := Unpack([]byte("definitely not gzip"), t.TempDir())
	require.ErrorContains(t, err, "not a gzip archive")
}

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for name, data := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
