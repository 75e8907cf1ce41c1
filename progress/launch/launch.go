package launch

// Phase represents a stage of bringing up one microVM.
type Phase int

const (
	PhaseRegistered Phase = iota // Record stored, directories created.
	PhaseSpawned                 // VMM process running, control socket connected.
	PhaseConfigured              // Machine, boot source, drives and NICs set.
	PhaseBooted                  // InstanceStart accepted.
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistered:
		return "registered"
	case PhaseSpawned:
		return "spawned"
	case PhaseConfigured:
		return "configured"
	case PhaseBooted:
		return "booted"
	default:
		return "unknown"
	}
}

// Event describes a single launch progress update.
type Event struct {
	Phase Phase
	Name  string
	PID   int // VMM pid once known.
}
