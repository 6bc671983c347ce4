package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockThenLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [extra.yaml]\nservice:\n  name: locked\n")
	writeFile(t, dir, "extra.yaml", "accounts:\n  alice:\n    connector: fedi\n")

	written, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if len(written) != 1 || written[0] != filepath.Join(dir, ChecksumFile) {
		t.Fatalf("written = %v", written)
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Errorf("hashes = %v", manifest.Hashes)
	}

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load after lock: %v", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "service:\n  name: locked\n")
	if _, err := Lock(dir); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	writeFile(t, dir, "config.yaml", "service:\n  name: tampered\n")
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestLoadRejectsUnlistedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "service:\n  name: locked\n")
	if _, err := Lock(dir); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	writeFile(t, dir, "config.yaml", "include: [late.yaml]\nservice:\n  name: locked\n")
	writeFile(t, dir, "late.yaml", "queue:\n  workers: 3\n")
	// Re-lock only to bring config.yaml back in line, then drop late.yaml's entry.
	if _, err := Lock(dir); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatal(err)
	}
	delete(manifest.Hashes, "late.yaml")
	data := "version: 1\nhashes:\n  config.yaml: " + manifest.Hashes["config.yaml"] + "\n"
	if err := os.WriteFile(filepath.Join(dir, ChecksumFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	_, err = Load(dir)
	if err == nil || !strings.Contains(err.Error(), "no hash") {
		t.Fatalf("expected missing hash error, got %v", err)
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrNoChecksums) {
		t.Fatalf("err = %v, want ErrNoChecksums", err)
	}
}
