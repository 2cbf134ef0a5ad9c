//go:build !linux

package storage

func filesystemName(string) (string, error) {
	return "", nil
}
