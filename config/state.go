package config

import (
	"encoding/json"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// Container statuses as exported by the state operation.
const (
	StatusCreating = specs.StateCreating
	StatusCreated  = specs.StateCreated
	StatusRunning  = specs.StateRunning
	StatusStopped  = specs.StateStopped
)

// Statuses is the vocabulary of container statuses.
var Statuses = stringVocabulary[specs.ContainerState]("status",
	StatusCreating, StatusCreated, StatusRunning, StatusStopped,
)

// NewState builds the exported state document. The pid is omitted once the
// container has stopped.
func NewState(id string, status specs.ContainerState, pid int, bundle string, annotations map[string]string) *specs.State {
	if status == StatusStopped {
		pid = 0
	}
	return &specs.State{
		Version:     Version,
		ID:          id,
		Status:      status,
		Pid:         pid,
		Bundle:      bundle,
		Annotations: annotations,
	}
}

// MarshalState encodes a state document for a hook's standard input.
func MarshalState(st *specs.State) ([]byte, error) {
	return json.Marshal(st)
}
