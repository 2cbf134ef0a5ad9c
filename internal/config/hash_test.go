package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockThenLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "include: [apps.yaml]\nservice:\n  log_level: debug\n")
	writeConfig(t, dir, "apps.yaml", "apps:\n  - name: hello\n    startup: Hello.Startup\n")

	files, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load() after lock failed: %v", err)
	}

	writeConfig(t, dir, "apps.yaml", "apps:\n  - name: tampered\n")
	_, err = Load(dir)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch for apps.yaml") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestVerifyFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(hash))
	}
	if err := VerifyFileHash(path, hash); err != nil {
		t.Fatalf("VerifyFileHash() = %v", err)
	}
	if err := VerifyFileHash(path, strings.Repeat("0", 64)); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, ".checksums", "version: 2\nhashes: {}\n")
	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("expected version error")
	}
}
