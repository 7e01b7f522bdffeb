package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a SQLite file would live on a mount
// whose locking cannot be trusted by several spanlink processes.
var ErrNetworkFilesystem = errors.New("sqlite needs a local filesystem")

// networkFilesystems holds the type names filesystemType reports for remote
// mounts on the platforms we inspect.
var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// checkLocalFilesystem rejects SQLite paths on network mounts. The database
// file may not exist yet, so the closest existing ancestor is inspected.
func checkLocalFilesystem(path string, fsType func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve sqlite path %q: %w", path, err)
	}
	kind, err := fsType(dir)
	if err != nil {
		return fmt.Errorf("inspect filesystem of %q: %w", dir, err)
	}
	if networkFilesystems[strings.ToLower(strings.TrimSpace(kind))] {
		return fmt.Errorf("%w: %q is on %s; set ledger.path (and queue.path) to a local disk in the --config file, or use ledger.driver: postgres",
			ErrNetworkFilesystem, path, kind)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	cur, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(cur)
		switch {
		case err == nil:
			return cur, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing directory above %q", path)
		}
		cur = parent
	}
}
