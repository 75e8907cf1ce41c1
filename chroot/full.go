package chroot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/projecteru2/fcsdk/types"
)

// Full mirrors the absolute host path under the jail root, creating the
// intermediate directories on link.
type Full struct{}

func (Full) Name() string { return NameFull }

func (Full) ChrootPath(root, hostPath string) (string, error) {
	if !filepath.IsAbs(hostPath) {
		return "", fmt.Errorf("%w: %q must be absolute for the %s strategy", types.ErrConfiguration, hostPath, NameFull)
	}
	rel := strings.TrimLeft(filepath.Clean(hostPath), string(filepath.Separator))
	if rel == "" {
		return "", fmt.Errorf("%w: %q has no file name", types.ErrConfiguration, hostPath)
	}
	return filepath.Join(root, rel), nil
}

func (Full) PerformLink(source, destination string) error {
	// The jailed VMM runs as another uid and must traverse these.
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("create %s: %w", filepath.Dir(destination), err)
	}
	return link(source, destination)
}

func (f Full) LinkFile(root, hostPath string) (string, error) {
	return linkFile(f, root, hostPath)
}
