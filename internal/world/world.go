package world

import (
	"context"
	"errors"
)

// ErrDisconnected means the world connection is gone. It is never retried.
var ErrDisconnected = errors.New("world connection lost")

// Action is one request to the simulation bridge.
type Action struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Path   []Vec3         `json:"path,omitempty"`
}

// Reply is the bridge's answer to an Action.
type Reply struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Path    []Vec3         `json:"path,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Handle is what capabilities act through. Implementations must tolerate
// being used while stale: Snapshot may lag the world and Do may fail with
// ErrDisconnected at any time.
type Handle interface {
	Snapshot() Snapshot
	Connected() bool
	Do(ctx context.Context, a Action) (Reply, error)
}

// ThreatMonitor supplies the dangers the scheduler should consider.
type ThreatMonitor interface {
	Threats(snap Snapshot) []Danger
}

// SnapshotMonitor reports the dangers carried in the snapshot itself.
type SnapshotMonitor struct{}

func (SnapshotMonitor) Threats(snap Snapshot) []Danger {
	return snap.Dangers
}
