package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the name of the manifest locking a config directory.
const ChecksumFile = ".checksums"

// ErrNoChecksums reports a config directory that has not been locked.
var ErrNoChecksums = errors.New("checksums file not found")

// ChecksumManifest records the expected BLAKE3 hash of each config file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock hashes every file the configuration at configPath reads and writes
// one manifest per directory. It returns the manifest paths written.
func Lock(configPath string) ([]string, error) {
	cfg, err := loadUnverified(configPath)
	if err != nil {
		return nil, err
	}

	byDir := make(map[string][]string)
	for _, path := range cfg.SourceFiles {
		dir := filepath.Dir(path)
		byDir[dir] = append(byDir[dir], path)
	}

	written := make([]string, 0, len(byDir))
	for dir, files := range byDir {
		manifest := ChecksumManifest{
			Version:     1,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Hashes:      make(map[string]string, len(files)),
		}
		for _, path := range files {
			hash, err := ComputeBlake3Hash(path)
			if err != nil {
				return nil, fmt.Errorf("failed to hash %s: %w", path, err)
			}
			manifest.Hashes[filepath.Base(path)] = hash
		}

		data, err := yaml.Marshal(manifest)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		out := filepath.Join(dir, ChecksumFile)
		if err := os.WriteFile(out, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
		written = append(written, out)
	}
	sort.Strings(written)
	return written, nil
}

// LoadChecksums reads the manifest from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyAllConfigHashes checks each file against the manifest in its
// directory. Directories without a manifest are not verified.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if errors.Is(err, ErrNoChecksums) {
			continue
		}
		if err != nil {
			return fmt.Errorf("config verification failed in %s: %w", dir, err)
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expected, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in %s\n"+
					"Run: courier config lock --config %s", basename, filepath.Join(dir, ChecksumFile), dir)
			}
			actual, err := ComputeBlake3Hash(path)
			if err != nil {
				return fmt.Errorf("config verification failed for %s: %w", basename, err)
			}
			if actual != expected {
				return fmt.Errorf("config verification failed for %s: hash mismatch\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If the change is intended, run: courier config lock --config %s", basename, dir)
			}
		}
	}
	return nil
}
