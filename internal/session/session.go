// Package session sequences the lifecycle of assistant terminal sessions:
// create, settle, deliver messages, await completion, inspect, tear down.
// It owns no persistent state; the set of live sessions is always
// reconstructed from the terminal layer.
package session

import (
	"errors"
	"time"

	"github.com/alex/claudepilot/internal/detect"
)

// ErrNotFound is returned when an operation targets a session the terminal
// layer does not know.
var ErrNotFound = errors.New("session not found")

// ErrTimeout mirrors the detector's timeout so callers only need this package.
var ErrTimeout = detect.ErrTimeout

// Status is the coarse health of a session.
type Status string

const (
	// StatusActive means the terminal session exists and the assistant is
	// visibly working.
	StatusActive Status = "active"

	// StatusIdle means the terminal session exists but shows no activity.
	StatusIdle Status = "idle"

	// StatusFailed means the terminal session could not be queried.
	StatusFailed Status = "failed"
)

// Session is the logical record for one assistant terminal session. It is
// rebuilt from the terminal layer on every List; nothing here survives a
// process restart on its own.
type Session struct {
	ID        string    `json:"id"`
	WorkDir   string    `json:"work_dir,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
}

// Driver is the terminal-session capability the manager consumes. The tmux
// client implements it; tests inject fakes.
type Driver interface {
	Exists(name string) bool
	Create(name, workDir, command string) error
	Destroy(name string) error
	SendText(name, text string) error
	SendSubmit(name string) error
	Capture(name string, lines int) (string, error)
	List() ([]string, error)
	ReadLog(name string, lines int) (string, error)
	LogPath(name string) string
}
