// Package registry persists the instances launched by fcctl so later
// invocations can find, control and tear them down.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/projecteru2/fcsdk/config"
	"github.com/projecteru2/fcsdk/rollback"
	"github.com/projecteru2/fcsdk/storage"
	storejson "github.com/projecteru2/fcsdk/storage/json"
	"github.com/projecteru2/fcsdk/utils"
)

var (
	// ErrNotFound is returned when a reference matches no instance.
	ErrNotFound = errors.New("instance not found")
	// ErrAmbiguous is returned when an ID prefix matches several instances.
	ErrAmbiguous = errors.New("ambiguous instance reference")
	// ErrNameTaken is returned by Add for a duplicate name or ID.
	ErrNameTaken = errors.New("instance name already in use")
)

// Record is everything needed to reach and tear down one instance.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	SocketPath     string `json:"socket_path"`
	JailRoot       string `json:"jail_root,omitempty"`
	RemoveJailRoot bool   `json:"remove_jail_root,omitempty"`
	RunDir         string `json:"run_dir,omitempty"`
	LogDir         string `json:"log_dir,omitempty"`

	// PID is the VMM. JailerPID is set for jailed launches and may equal PID.
	PID       int `json:"pid"`
	JailerPID int `json:"jailer_pid,omitempty"`

	Kernel    string `json:"kernel,omitempty"`
	Rootfs    string `json:"rootfs,omitempty"`
	CPU       int    `json:"cpu,omitempty"`
	MemoryMiB int    `json:"memory_mib,omitempty"`
	Tap       string `json:"tap,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *Record) Jailed() bool { return r.JailRoot != "" }

// Alive reports whether the VMM process still exists.
func (r *Record) Alive() bool { return r.PID > 0 && utils.IsProcessAlive(r.PID) }

// Teardown rebuilds the rollback stack the launching process would have
// run, in the same push order.
func (r *Record) Teardown() *rollback.Stack {
	s := &rollback.Stack{}
	if r.JailerPID > 0 && r.JailerPID != r.PID {
		s.Push(rollback.TerminateProcess{PID: r.JailerPID})
	}
	if r.Jailed() && r.RemoveJailRoot {
		s.Push(rollback.RemoveDirectory{Path: r.JailRoot})
	}
	if r.LogDir != "" {
		s.Push(rollback.RemoveDirectory{Path: r.LogDir})
	}
	if r.RunDir != "" {
		s.Push(rollback.RemoveDirectory{Path: r.RunDir})
	}
	if r.SocketPath != "" {
		s.Push(rollback.RemoveFile{Path: r.SocketPath})
	}
	if r.PID > 0 {
		s.Push(rollback.TerminateProcess{PID: r.PID})
	}
	return s
}

// Index is the persisted document.
type Index struct {
	Instances map[string]*Record `json:"instances"`
	Names     map[string]string  `json:"names"` // name → ID
}

// Init implements storage.Initer.
func (idx *Index) Init() {
	if idx.Instances == nil {
		idx.Instances = make(map[string]*Record)
	}
	if idx.Names == nil {
		idx.Names = make(map[string]string)
	}
}

// Resolve maps an exact ID, a name, or an ID prefix of at least three
// characters to an ID.
func (idx *Index) Resolve(ref string) (string, error) {
	if idx.Instances[ref] != nil {
		return ref, nil
	}
	if id, ok := idx.Names[ref]; ok && idx.Instances[id] != nil {
		return id, nil
	}
	if len(ref) >= 3 {
		var match string
		for id := range idx.Instances {
			if strings.HasPrefix(id, ref) {
				if match != "" {
					return "", fmt.Errorf("%w: %q", ErrAmbiguous, ref)
				}
				match = id
			}
		}
		if match != "" {
			return match, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
}

// GenerateID returns a new instance ID, also usable as a jailer --id.
func GenerateID() string { return uuid.NewString() }

// Registry is the instance index behind a locked store.
type Registry struct {
	store storage.Store[Index]
	conf  *config.Config
}

func New(conf *config.Config, store storage.Store[Index]) *Registry {
	return &Registry{store: store, conf: conf}
}

// Open ensures the data directories and opens the JSON-backed index.
func Open(conf *config.Config) (*Registry, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, err
	}
	return New(conf, storejson.New[Index](conf.IndexLock(), conf.IndexFile())), nil
}

// Add stores rec, filling ID, Name and CreatedAt when empty.
func (r *Registry) Add(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = GenerateID()
	}
	if rec.Name == "" {
		rec.Name = "fc-" + rec.ID[:min(8, len(rec.ID))] //nolint:mnd
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return r.store.Update(ctx, func(idx *Index) error {
		if idx.Instances[rec.ID] != nil {
			return fmt.Errorf("%w: id %s", ErrNameTaken, rec.ID)
		}
		if _, ok := idx.Names[rec.Name]; ok {
			return fmt.Errorf("%w: %s", ErrNameTaken, rec.Name)
		}
		idx.Instances[rec.ID] = rec
		idx.Names[rec.Name] = rec.ID
		return nil
	})
}

// Update applies fn to the record ref resolves to and persists it.
func (r *Registry) Update(ctx context.Context, ref string, fn func(*Record) error) error {
	return r.store.Update(ctx, func(idx *Index) error {
		id, err := idx.Resolve(ref)
		if err != nil {
			return err
		}
		return fn(idx.Instances[id])
	})
}

func (r *Registry) Get(ctx context.Context, ref string) (*Record, error) {
	var rec *Record
	err := r.store.With(ctx, func(idx *Index) error {
		id, err := idx.Resolve(ref)
		if err != nil {
			return err
		}
		rec = idx.Instances[id]
		return nil
	})
	return rec, err
}

// List returns every record, oldest first.
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	var out []*Record
	err := r.store.With(ctx, func(idx *Index) error {
		for _, rec := range idx.Instances {
			out = append(out, rec)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, err
}

// Remove deletes the given IDs. Unknown IDs are ignored.
func (r *Registry) Remove(ctx context.Context, ids ...string) error {
	return r.store.Update(ctx, func(idx *Index) error {
		removeLocked(idx, ids)
		return nil
	})
}

func removeLocked(idx *Index, ids []string) {
	for _, id := range ids {
		rec := idx.Instances[id]
		if rec == nil {
			continue
		}
		if idx.Names[rec.Name] == id {
			delete(idx.Names, rec.Name)
		}
		delete(idx.Instances, id)
	}
}
