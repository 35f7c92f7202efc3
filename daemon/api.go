package daemon

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"ocirt/store"
)

// CreateRequest asks the daemon to create a container from a bundle on
// the daemon's host.
type CreateRequest struct {
	ID            string `json:"id"`
	Bundle        string `json:"bundle"`
	ConsoleSocket string `json:"consoleSocket,omitempty"`
	PidFile       string `json:"pidFile,omitempty"`
	NoPivot       bool   `json:"noPivot,omitempty"`
	NoNewKeyring  bool   `json:"noNewKeyring,omitempty"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type KillRequest struct {
	ID     string `json:"id"`
	Signal int    `json:"signal"`
	All    bool   `json:"all,omitempty"`
}

type DeleteRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

type ListRequest struct{}

type Empty struct{}

// StateResponse carries the state document of one container.
type StateResponse struct {
	State *specs.State `json:"state"`
}

// ContainerInfo is one row of a listing.
type ContainerInfo struct {
	ID          string            `json:"id"`
	Pid         int               `json:"pid"`
	Status      string            `json:"status"`
	Bundle      string            `json:"bundle"`
	Rootfs      string            `json:"rootfs"`
	Created     time.Time         `json:"created"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

type ListResponse struct {
	Containers []ContainerInfo `json:"containers"`
}

// InfoFromRecord converts a stored record to its listing row.
func InfoFromRecord(rec *store.Record) ContainerInfo {
	pid := rec.Pid
	if rec.Status == specs.StateStopped {
		pid = 0
	}
	return ContainerInfo{
		ID:          rec.ID,
		Pid:         pid,
		Status:      string(rec.Status),
		Bundle:      rec.Bundle,
		Rootfs:      rec.Rootfs,
		Created:     rec.Created,
		Annotations: rec.Annotations,
	}
}
