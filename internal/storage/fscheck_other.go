//go:build !darwin && !linux

package storage

// filesystemType has no mount information on this platform; paths are trusted.
func filesystemType(string) (string, error) {
	return "local", nil
}
