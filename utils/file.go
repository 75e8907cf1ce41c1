package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// EnsureDirs creates every dir with 0o750 permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so callers never clobber something they cannot inspect.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// ValidFile returns true if path is a non-empty regular file.
func ValidFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// DetectHugePages reports whether the host has 2M hugepages reserved.
func DetectHugePages() bool {
	n, err := ReadPIDFile("/proc/sys/vm/nr_hugepages")
	return err == nil && n > 0
}

// ScanSubdirs returns the names of the immediate subdirectories of dir.
func ScanSubdirs(dir string) []string {
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// FilterUnreferenced returns the candidates present in neither refs nor any
// exclude set.
func FilterUnreferenced(candidates []string, refs map[string]struct{}, exclude ...map[string]struct{}) []string {
	var out []string
next:
	for _, s := range candidates {
		if _, ok := refs[s]; ok {
			continue
		}
		for _, ex := range exclude {
			if _, ok := ex[s]; ok {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}
