package chroot

import (
	"fmt"
	"path/filepath"

	"github.com/projecteru2/fcsdk/types"
)

// Naive places every file directly under the jail root by base name, so
// /a/b/c.img and /x/c.img collide.
type Naive struct{}

func (Naive) Name() string { return NameNaive }

func (Naive) ChrootPath(root, hostPath string) (string, error) {
	base := filepath.Base(filepath.Clean(hostPath))
	switch base {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q has no file name", types.ErrConfiguration, hostPath)
	}
	return filepath.Join(root, base), nil
}

func (Naive) PerformLink(source, destination string) error {
	return link(source, destination)
}

func (n Naive) LinkFile(root, hostPath string) (string, error) {
	return linkFile(n, root, hostPath)
}
