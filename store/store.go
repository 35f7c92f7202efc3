// Package store persists container records so that separate invocations
// of the runtime see the same containers.
//
// Two backends exist: filestore keeps one state.json per container in the
// classic runc layout, pebblestore keeps all records in a pebble database.
package store

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// Record is the persisted form of a container.
type Record struct {
	ID     string               `json:"id"`
	Bundle string               `json:"bundle"`
	Rootfs string               `json:"rootfs"`
	Status specs.ContainerState `json:"status"`

	// Pid is the container's init process.
	Pid int `json:"pid"`

	// PidStartTime is the start time of Pid in clock ticks since boot. It
	// tells a live init from an unrelated process reusing its pid.
	PidStartTime uint64 `json:"pidStartTime,omitempty"`

	CgroupPath  string            `json:"cgroupPath,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// Config is the configuration document the container was created from.
	Config json.RawMessage `json:"config,omitempty"`

	Created time.Time `json:"created"`
}

// State returns the state document of the record.
func (r *Record) State() *specs.State {
	return config.NewState(r.ID, r.Status, r.Pid, r.Bundle, r.Annotations)
}

// Spec parses the configuration document stored with the record.
func (r *Record) Spec() (*config.Spec, error) {
	if len(r.Config) == 0 {
		s, _, err := config.Load(r.Bundle)
		return s, err
	}
	return config.Parse(r.Config)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Annotations != nil {
		c.Annotations = make(map[string]string, len(r.Annotations))
		for k, v := range r.Annotations {
			c.Annotations[k] = v
		}
	}
	c.Config = append(json.RawMessage(nil), r.Config...)
	return &c
}

// Store is a container record store. Implementations are safe for
// concurrent use.
type Store interface {
	// Create adds r. It fails with ErrDuplicateID when the id is taken.
	Create(r *Record) error

	// Update replaces an existing record. It fails with ErrNotFound when
	// no record has r.ID.
	Update(r *Record) error

	// Get returns the record of id or fails with ErrNotFound.
	Get(id string) (*Record, error)

	// Delete removes the record of id. Deleting a missing record is not
	// an error.
	Delete(id string) error

	// List returns every record, ordered by id.
	List() ([]*Record, error)

	Close() error
}

var validID = regexp.MustCompile(`^[\w+\-.]+$`)

// ValidateID checks that id is usable as a container id: non-empty, at
// most 1024 bytes, made of letters, digits and "_+-.", and not starting
// with a dot. Dot names are left to the stores' own files.
func ValidateID(id string) error {
	if id == "" {
		return rterrors.ErrEmptyContainerID
	}
	if len(id) > 1024 || !validID.MatchString(id) || id[0] == '.' {
		return rterrors.WrapWithContainer(rterrors.ErrInvalidContainerID, rterrors.ErrInvalidValue, "validate", id)
	}
	return nil
}

// NotFound returns the error reported for a missing record.
func NotFound(id string) error {
	return rterrors.WrapWithContainer(rterrors.ErrContainerNotFound, rterrors.ErrNotFound, "store", id)
}

// Exists returns the error reported for a taken id.
func Exists(id string) error {
	return rterrors.WrapWithContainer(rterrors.ErrContainerExists, rterrors.ErrDuplicateID, "store", id)
}
