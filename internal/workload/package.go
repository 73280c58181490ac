// Package workload builds the experiment package that gets encrypted and
// uploaded: a gzip-compressed tar archive holding the experiment
// configuration and the workload binary. It also unpacks decrypted result
// archives.
package workload

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mips-tech/atlasexplorer/pkg/version"
)

// defaultTimeout is the processing timeout requested from the service, in
// seconds.
const defaultTimeout = 300

// ExperimentConfig is the configuration document included in the experiment
// package. Field names follow the gateway's expected JSON schema.
type ExperimentConfig struct {
	Core          string `json:"core"`
	Workload      string `json:"elf"`
	UUID          string `json:"uuid"`
	ToolsVersion  string `json:"toolsVersion"`
	Timeout       int    `json:"timeout"`
	ClientVersion string `json:"pluginVersion"`
}

// NewExperimentConfig fills an ExperimentConfig with the standard defaults.
func NewExperimentConfig(experimentID, workloadName, core string) ExperimentConfig {
	return ExperimentConfig{
		Core:          core,
		Workload:      workloadName,
		UUID:          experimentID,
		ToolsVersion:  "latest",
		Timeout:       defaultTimeout,
		ClientVersion: version.AtlasExplorerVersion,
	}
}

// Package is a built experiment package, ready for encryption.
type Package struct {
	// Data is the gzip-compressed tar archive.
	Data []byte
	// Size is len(Data).
	Size int64
	// SHA256 is the hex-encoded checksum of Data.
	SHA256 string
	// Workload is the base name of the packaged workload file.
	Workload string
	// Config is the embedded experiment configuration.
	Config ExperimentConfig
}

// Pack reads the workload file and builds the experiment package. The
// archive contains "config.json" followed by the workload under its base
// name.
func Pack(cfg ExperimentConfig, workloadPath string) (*Package, error) {
	workloadBytes, err := os.ReadFile(workloadPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload: %w", err)
	}

	workloadName := filepath.Base(workloadPath)
	cfg.Workload = workloadName

	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode experiment config: %w", err)
	}

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	now := time.Now()
	entries := []struct {
		name string
		data []byte
	}{
		{"config.json", configBytes},
		{workloadName, workloadBytes},
	}
	for _, entry := range entries {
		header := &tar.Header{
			Name:    entry.name,
			Mode:    0o644,
			Size:    int64(len(entry.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write archive header for %s: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", entry.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}

	data := buf.Bytes()
	checksum := sha256.Sum256(data)

	return &Package{
		Data:     data,
		Size:     int64(len(data)),
		SHA256:   hex.EncodeToString(checksum[:]),
		Workload: workloadName,
		Config:   cfg,
	}, nil
}

// Unpack extracts a decrypted result archive into destDir and returns the
// extracted file paths. Entries that would escape destDir are rejected.
func Unpack(data []byte, destDir string) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("result is not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var extracted []string

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read result archive: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Clean(header.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, fmt.Errorf("result archive entry %q escapes the target directory", header.Name)
		}

		target := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to extract %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}

		extracted = append(extracted, target)
	}

	return extracted, nil
}
