// Package chroot maps host file paths into a jail root and hard-links the
// files there so a jailed VMM can open them.
package chroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/projecteru2/fcsdk/types"
)

const (
	NameNaive = "naive"
	NameFull  = "full"
)

// ErrCrossDevice is returned when the host file and the jail root live on
// different filesystems, which hard links cannot span.
var ErrCrossDevice = errors.New("host file and jail root are on different devices")

// Strategy decides where a host file appears inside a jail root.
type Strategy interface {
	Name() string
	// ChrootPath is pure: it computes the host-visible destination under
	// root without touching the filesystem.
	ChrootPath(root, hostPath string) (string, error)
	// PerformLink hard-links source to destination. An existing
	// destination is an error.
	PerformLink(source, destination string) error
	// LinkFile links hostPath into root and returns the destination.
	LinkFile(root, hostPath string) (string, error)
}

// Parse returns the strategy registered under name.
func Parse(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameNaive, "":
		return Naive{}, nil
	case NameFull:
		return Full{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported chroot strategy %q", types.ErrConfiguration, name)
	}
}

// Relative strips root from a path produced by a strategy, yielding the path
// the jailed process sees relative to its chroot.
func Relative(root, jailed string) (string, error) {
	rel, err := filepath.Rel(root, jailed)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is not under jail root %s", types.ErrConfiguration, jailed, root)
	}
	return rel, nil
}

func link(source, destination string) error {
	if err := os.Link(source, destination); err != nil {
		if errors.Is(err, unix.EXDEV) {
			return fmt.Errorf("link %s to %s: %w", source, destination, ErrCrossDevice)
		}
		return fmt.Errorf("link %s to %s: %w", source, destination, err)
	}
	return nil
}

func linkFile(s Strategy, root, hostPath string) (string, error) {
	dst, err := s.ChrootPath(root, hostPath)
	if err != nil {
		return "", err
	}
	if err := s.PerformLink(hostPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}
