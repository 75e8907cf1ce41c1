package instance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/projecteru2/fcsdk/chroot"
	"github.com/projecteru2/fcsdk/rollback"
	"github.com/projecteru2/fcsdk/types"
	"github.com/projecteru2/fcsdk/utils"
)

// JailedLink returns where hostPath appears on the host once placed in the
// jail, or hostPath itself for bare launches.
func (i *Instance) JailedLink(hostPath string) (string, error) {
	if !i.Jailed() {
		return hostPath, nil
	}
	return i.conf.Strategy.ChrootPath(i.conf.JailRoot, hostPath)
}

// jailFiles tracks the jail entries one API call creates. A rejected call
// removes them so it can be retried; an accepted one hands them to teardown.
type jailFiles struct {
	i       *Instance
	created []string
}

func newJailFiles(i *Instance) *jailFiles { return &jailFiles{i: i} }

// link hard-links hostPath into the jail and returns the path to send to
// the VMM. A destination that already is hostPath is reused.
func (j *jailFiles) link(hostPath string) (string, error) {
	i := j.i
	if !i.Jailed() {
		return hostPath, nil
	}
	dst, err := i.conf.Strategy.ChrootPath(i.conf.JailRoot, hostPath)
	if err != nil {
		return "", fmt.Errorf("link %s into jail: %w", hostPath, err)
	}
	if !sameFile(hostPath, dst) {
		if err := i.conf.Strategy.PerformLink(hostPath, dst); err != nil {
			return "", fmt.Errorf("link %s into jail: %w", hostPath, err)
		}
		j.created = append(j.created, dst)
	}
	return chroot.Relative(i.conf.JailRoot, dst)
}

// mapIn computes the jail location of a file the VMM will create itself.
// It returns the host-visible destination and the path to send.
func (j *jailFiles) mapIn(hostPath string) (string, string, error) {
	i := j.i
	if !i.Jailed() {
		return hostPath, hostPath, nil
	}
	dst, err := i.conf.Strategy.ChrootPath(i.conf.JailRoot, hostPath)
	if err != nil {
		return "", "", err
	}
	rel, err := chroot.Relative(i.conf.JailRoot, dst)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec
		return "", "", fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if !utils.Exists(dst) {
		j.created = append(j.created, dst)
	}
	return dst, rel, nil
}

// finish passes err through after removing this call's entries, or records
// them for teardown when err is nil.
func (j *jailFiles) finish(err error) error {
	if err != nil {
		for k := len(j.created) - 1; k >= 0; k-- {
			_ = os.Remove(j.created[k])
		}
		j.created = nil
		return err
	}
	for _, p := range j.created {
		j.i.stack.Push(rollback.RemoveFile{Path: p})
	}
	j.created = nil
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func (i *Instance) PutGuestBootSource(ctx context.Context, src types.BootSource) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if src.KernelImagePath, err = files.link(src.KernelImagePath); err != nil {
		return files.finish(err)
	}
	if src.InitrdPath != "" {
		if src.InitrdPath, err = files.link(src.InitrdPath); err != nil {
			return files.finish(err)
		}
	}
	return files.finish(i.call(ctx, http.MethodPut, "/boot-source", src, nil))
}

func (i *Instance) PutGuestDrive(ctx context.Context, drive types.Drive) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if drive.PathOnHost != "" {
		if drive.PathOnHost, err = files.link(drive.PathOnHost); err != nil {
			return files.finish(err)
		}
	}
	return files.finish(i.call(ctx, http.MethodPut, "/drives/"+url.PathEscape(drive.DriveID), drive, nil))
}

func (i *Instance) PatchGuestDrive(ctx context.Context, drive types.PartialDrive) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if drive.PathOnHost != "" {
		if drive.PathOnHost, err = files.link(drive.PathOnHost); err != nil {
			return files.finish(err)
		}
	}
	return files.finish(i.call(ctx, http.MethodPatch, "/drives/"+url.PathEscape(drive.DriveID), drive, nil))
}

func (i *Instance) PutLogger(ctx context.Context, logger types.Logger) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if logger.LogPath != "" {
		if logger.LogPath, err = files.link(logger.LogPath); err != nil {
			return files.finish(err)
		}
	}
	return files.finish(i.call(ctx, http.MethodPut, "/logger", logger, nil))
}

func (i *Instance) PutMetrics(ctx context.Context, metrics types.Metrics) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if metrics.MetricsPath, err = files.link(metrics.MetricsPath); err != nil {
		return files.finish(err)
	}
	return files.finish(i.call(ctx, http.MethodPut, "/metrics", metrics, nil))
}

// PutGuestVsock links an existing vsock socket into the jail. Usually the
// VMM creates it, in which case the path is only mapped.
func (i *Instance) PutGuestVsock(ctx context.Context, vsock types.Vsock) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if utils.Exists(vsock.UDSPath) {
		vsock.UDSPath, err = files.link(vsock.UDSPath)
	} else {
		_, vsock.UDSPath, err = files.mapIn(vsock.UDSPath)
	}
	if err != nil {
		return files.finish(err)
	}
	return files.finish(i.call(ctx, http.MethodPut, "/vsock", vsock, nil))
}

func (i *Instance) LoadSnapshot(ctx context.Context, params types.SnapshotLoadParams) (err error) {
	if _, err := i.client(); err != nil {
		return err
	}
	files := newJailFiles(i)
	if params.SnapshotPath, err = files.link(params.SnapshotPath); err != nil {
		return files.finish(err)
	}
	if params.MemFilePath != "" {
		if params.MemFilePath, err = files.link(params.MemFilePath); err != nil {
			return files.finish(err)
		}
	}
	if params.MemBackend != nil {
		backend := *params.MemBackend
		if backend.BackendPath, err = files.link(backend.BackendPath); err != nil {
			return files.finish(err)
		}
		params.MemBackend = &backend
	}
	return files.finish(i.call(ctx, http.MethodPut, "/snapshot/load", params, nil))
}

// CreateSnapshot has the VMM write the snapshot inside the jail and, once it
// succeeds, links both outputs back to the requested host paths, snapshot
// first.
func (i *Instance) CreateSnapshot(ctx context.Context, params types.SnapshotCreateParams) error {
	if _, err := i.client(); err != nil {
		return err
	}
	if !i.Jailed() {
		return i.call(ctx, http.MethodPut, "/snapshot/create", params, nil)
	}

	files := newJailFiles(i)
	outputs := []struct{ host, jailed string }{
		{host: params.SnapshotPath},
		{host: params.MemFilePath},
	}
	rels := make([]string, len(outputs))
	for k := range outputs {
		var err error
		if outputs[k].jailed, rels[k], err = files.mapIn(outputs[k].host); err != nil {
			return files.finish(err)
		}
	}
	if outputs[0].jailed == outputs[1].jailed {
		return files.finish(fmt.Errorf("%w: snapshot %s and memory file %s both map to %s in the jail",
			types.ErrConfiguration, outputs[0].host, outputs[1].host, rels[0]))
	}
	params.SnapshotPath, params.MemFilePath = rels[0], rels[1]
	if err := files.finish(i.call(ctx, http.MethodPut, "/snapshot/create", params, nil)); err != nil {
		return err
	}

	for _, out := range outputs {
		if err := i.conf.Strategy.PerformLink(out.jailed, out.host); err != nil {
			return fmt.Errorf("link snapshot output back: %w", err)
		}
	}
	return nil
}
