package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixedType(kind string) func(string) (string, error) {
	return func(string) (string, error) { return kind, nil }
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	cases := []struct {
		kind    string
		network bool
	}{
		{kind: "apfs"},
		{kind: "0xef53"},
		{kind: "nfs", network: true},
		{kind: "SMBFS", network: true},
		{kind: " ceph ", network: true},
		{kind: "9p", network: true},
	}
	for _, tc := range cases {
		err := checkLocalFilesystem(dbPath, fixedType(tc.kind))
		if got := errors.Is(err, ErrNetworkFilesystem); got != tc.network {
			t.Fatalf("kind %q: network=%v, err=%v", tc.kind, got, err)
		}
		if tc.network && !pointsAtSettings(err) {
			t.Fatalf("kind %q: unhelpful error %q", tc.kind, err)
		}
	}
}

// pointsAtSettings reports whether err names the settings an operator can change.
func pointsAtSettings(err error) bool {
	msg := err.Error()
	for _, want := range []string{"ledger.path", "queue.path", "--config", "ledger.driver: postgres"} {
		if !strings.Contains(msg, want) {
			return false
		}
	}
	return !strings.Contains(msg, "--db")
}

func TestCheckLocalFilesystemInspectsExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystem(filepath.Join(root, "data", "spanlink", "ledger.db"), func(dir string) (string, error) {
		inspected = dir
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckLocalFilesystemDetectorFailure(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(t.TempDir(), func(string) (string, error) {
		return "", os.ErrPermission
	})
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := checkLocalFilesystem("", fixedType("ext4")); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestFilesystemTypeOfTempDir(t *testing.T) {
	kind, err := filesystemType(t.TempDir())
	if err != nil {
		t.Fatalf("filesystemType: %v", err)
	}
	if kind == "" {
		t.Fatal("expected a filesystem type")
	}
}
