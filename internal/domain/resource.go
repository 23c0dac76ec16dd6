package domain

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a remote studio as last observed
// by the monitor.
type State string

const (
	StateUnknown  State = "unknown"
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Settled reports whether the state is one the remote API can rest in.
// Starting and Stopping are pending intermediates set locally when a
// transition is requested; Unknown means no successful poll yet.
func (s State) Settled() bool {
	return s == StateStopped || s == StateRunning
}

type MachineType string

const (
	MachineCPU     MachineType = "CPU"
	MachineGPU     MachineType = "GPU"
	MachineGPUFast MachineType = "GPU_FAST"
)

func (m MachineType) Valid() bool {
	switch m {
	case MachineCPU, MachineGPU, MachineGPUFast:
		return true
	}
	return false
}

// ResourceID identifies a studio by its owner/teamspace/name triple.
// Name is unique within the set of studios an instance operates, so
// API routes address resources by name alone.
type ResourceID struct {
	Owner     string `json:"owner"`
	Teamspace string `json:"teamspace"`
	Name      string `json:"name"`
}

func (r ResourceID) String() string {
	return r.Owner + "/" + r.Teamspace + "/" + r.Name
}

func (r ResourceID) IsZero() bool {
	return r.Owner == "" && r.Teamspace == "" && r.Name == ""
}

// ParseResourceID parses an "owner/teamspace/name" triple.
func ParseResourceID(s string) (ResourceID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return ResourceID{}, fmt.Errorf("resource id %q: want owner/teamspace/name", s)
	}
	for _, p := range parts {
		if p == "" {
			return ResourceID{}, fmt.Errorf("resource id %q: empty segment", s)
		}
	}
	return ResourceID{Owner: parts[0], Teamspace: parts[1], Name: parts[2]}, nil
}

// Resource is a point-in-time snapshot of a tracked studio. The monitor
// is the only writer; everything else reads snapshots.
type Resource struct {
	ID              ResourceID  `json:"id"`
	State           State       `json:"state"`
	ObservedAt      time.Time   `json:"observed_at"`
	LastMachineType MachineType `json:"last_machine_type,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}
