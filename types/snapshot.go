package types

// SnapshotType selects a full or a dirty-page snapshot.
type SnapshotType string

const (
	SnapshotFull SnapshotType = "Full"
	SnapshotDiff SnapshotType = "Diff"
)

// SnapshotCreateParams is the body of PUT /snapshot/create. Both paths are
// written by the VMM.
type SnapshotCreateParams struct {
	SnapshotType SnapshotType `json:"snapshot_type,omitempty"`
	SnapshotPath string       `json:"snapshot_path"`
	MemFilePath  string       `json:"mem_file_path"`
}

// MemoryBackendType selects how guest memory is restored.
type MemoryBackendType string

const (
	MemoryBackendFile MemoryBackendType = "File"
	MemoryBackendUffd MemoryBackendType = "Uffd"
)

// MemoryBackend points at the guest memory source of a snapshot load.
type MemoryBackend struct {
	BackendType MemoryBackendType `json:"backend_type"`
	BackendPath string            `json:"backend_path"`
}

// SnapshotLoadParams is the body of PUT /snapshot/load. MemFilePath and
// MemBackend are mutually exclusive.
type SnapshotLoadParams struct {
	SnapshotPath        string         `json:"snapshot_path"`
	MemFilePath         string         `json:"mem_file_path,omitempty"`
	MemBackend          *MemoryBackend `json:"mem_backend,omitempty"`
	EnableDiffSnapshots bool           `json:"enable_diff_snapshots,omitempty"`
	ResumeVM            bool           `json:"resume_vm,omitempty"`
}

// FullVMConfiguration is returned by GET /vm/config.
type FullVMConfiguration struct {
	Balloon           *Balloon              `json:"balloon,omitempty"`
	Drives            []Drive               `json:"drives"`
	BootSource        *BootSource           `json:"boot-source,omitempty"`
	Logger            *Logger               `json:"logger,omitempty"`
	MachineConfig     *MachineConfiguration `json:"machine-config,omitempty"`
	Metrics           *Metrics              `json:"metrics,omitempty"`
	MMDSConfig        *MMDSConfig           `json:"mmds-config,omitempty"`
	NetworkInterfaces []NetworkInterface    `json:"network-interfaces"`
	Vsock             *Vsock                `json:"vsock,omitempty"`
	Entropy           *EntropyDevice        `json:"entropy,omitempty"`
}
