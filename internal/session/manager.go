package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alex/claudepilot/internal/detect"
	"github.com/alex/claudepilot/internal/logging"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// DefaultCommand launches the assistant inside a fresh session.
const DefaultCommand = "claude-code --dangerously-skip-permissions"

const (
	defaultSettle      = 5 * time.Second
	defaultSubmitDelay = 500 * time.Millisecond
)

// Options tune the manager. Zero values fall back to production defaults.
type Options struct {
	// Command is the assistant launch command for new sessions.
	Command string

	// Settle is how long Start waits after session creation before delivering
	// the initial message, giving the assistant time to initialize.
	Settle time.Duration

	// SubmitDelay is the pause between writing message text and sending the
	// execute keystroke. Submitting immediately can race the UI's input
	// buffering.
	SubmitDelay time.Duration
}

// Manager sequences session lifecycle operations against an injected Driver.
type Manager struct {
	driver      Driver
	detector    *detect.Detector
	command     string
	settle      time.Duration
	submitDelay time.Duration
}

// NewManager wires a manager to its terminal driver and completion detector.
func NewManager(driver Driver, detector *detect.Detector, opts Options) *Manager {
	m := &Manager{
		driver:      driver,
		detector:    detector,
		command:     opts.Command,
		settle:      opts.Settle,
		submitDelay: opts.SubmitDelay,
	}
	if m.command == "" {
		m.command = DefaultCommand
	}
	if m.settle <= 0 {
		m.settle = defaultSettle
	}
	if m.submitDelay <= 0 {
		m.submitDelay = defaultSubmitDelay
	}
	return m
}

// Start creates a session running the assistant, waits for it to initialize,
// and delivers the initial message. An empty name gets a generated
// claude-<timestamp> name. A name collision is resolved destructively: the
// existing session is killed and replaced.
func (m *Manager) Start(message, name, workDir string) (string, error) {
	if name == "" {
		name = GenerateName(time.Now())
	}

	sessionLog.Info("starting_session", slog.String("session", name), slog.String("workdir", workDir))

	if m.driver.Exists(name) {
		sessionLog.Warn("session_exists_replacing", slog.String("session", name))
		if err := m.driver.Destroy(name); err != nil {
			return "", fmt.Errorf("replace session %s: %w", name, err)
		}
	}

	if err := m.driver.Create(name, workDir, m.command); err != nil {
		return "", fmt.Errorf("create session %s: %w", name, err)
	}

	// Let the assistant process come up before the first message.
	time.Sleep(m.settle)

	if ready, err := m.Ready(name); err == nil {
		sessionLog.Debug("readiness_probe", slog.String("session", name), slog.Bool("ready", ready))
	}

	if message != "" {
		if err := m.Send(name, message); err != nil {
			return "", err
		}
	}

	sessionLog.Info("session_started", slog.String("session", name))
	return name, nil
}

// Send writes the message into the session's input and submits it. The text
// and the execute keystroke are separated by a short pause so the UI can
// register the injected text first.
func (m *Manager) Send(id, message string) error {
	if !m.driver.Exists(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sessionLog.Debug("sending_message", slog.String("session", id), slog.Int("bytes", len(message)))

	if err := m.driver.SendText(id, message); err != nil {
		return fmt.Errorf("send text to %s: %w", id, err)
	}
	time.Sleep(m.submitDelay)
	if err := m.driver.SendSubmit(id); err != nil {
		return fmt.Errorf("submit to %s: %w", id, err)
	}

	sessionLog.Info("message_sent", slog.String("session", id))
	return nil
}

// AwaitCompletion blocks until the session's current turn finishes and
// returns the final output. Callers must serialize waits per session.
func (m *Manager) AwaitCompletion(ctx context.Context, id string, timeout time.Duration) (string, error) {
	if !m.driver.Exists(id) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.detector.AwaitCompletion(ctx, id, timeout)
}

// Snapshot returns the session's current pane text, limited to the last
// lines when lines > 0.
func (m *Manager) Snapshot(id string, lines int) (string, error) {
	if !m.driver.Exists(id) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.driver.Capture(id, lines)
}

// Ready reports whether the assistant prompt is visible in the session.
func (m *Manager) Ready(id string) (bool, error) {
	content, err := m.driver.Capture(id, 10)
	if err != nil {
		return false, err
	}
	return detect.IsReady(content), nil
}

// infoProvider is implemented by drivers that can report real creation
// times (the tmux client can; fakes usually don't bother).
type infoProvider interface {
	CreatedAt(name string) (time.Time, error)
}

// List reconstructs the set of assistant sessions from the terminal layer.
// Membership is heuristic: the name prefix wins, otherwise the first captured
// lines are sniffed for assistant identity markers.
func (m *Manager) List() ([]Session, error) {
	names, err := m.driver.List()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []Session
	for _, name := range names {
		if !m.isOurs(name) {
			continue
		}

		s := Session{
			ID:        name,
			CreatedAt: time.Now(), // approximate unless the driver knows better
			Status:    m.statusOf(name),
		}
		if ip, ok := m.driver.(infoProvider); ok {
			if created, err := ip.CreatedAt(name); err == nil {
				s.CreatedAt = created
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// isOurs decides whether an arbitrary terminal session belongs to this tool.
func (m *Manager) isOurs(name string) bool {
	if strings.HasPrefix(name, NamePrefix) || strings.Contains(name, "claude") {
		return true
	}
	content, err := m.driver.Capture(name, 5)
	if err != nil {
		return false
	}
	return detect.LooksLikeAssistant(content)
}

// statusOf classifies a live session. A capture failure means failed; visible
// progress markers mean active; anything else is idle.
func (m *Manager) statusOf(name string) Status {
	content, err := m.driver.Capture(name, 25)
	if err != nil {
		return StatusFailed
	}
	markers := detect.DefaultMarkers()
	for _, indicator := range markers.StillWorking {
		if strings.Contains(content, indicator) {
			return StatusActive
		}
	}
	return StatusIdle
}

// Kill destroys the session along with its sentinel and output log. The
// logical record and the terminal session go together; nothing is left to
// orphan.
func (m *Manager) Kill(id string) error {
	if !m.driver.Exists(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := m.driver.Destroy(id); err != nil {
		return fmt.Errorf("kill session %s: %w", id, err)
	}

	_ = os.Remove(m.detector.SentinelPath(id))
	_ = os.Remove(m.driver.LogPath(id))

	sessionLog.Info("session_killed", slog.String("session", id))
	return nil
}

// KillAll destroys every session List finds, best-effort, and returns how
// many died. Individual failures are logged and suppressed; a cleanup sweep
// should not stop halfway.
func (m *Manager) KillAll() (int, error) {
	sessions, err := m.List()
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, s := range sessions {
		if err := m.Kill(s.ID); err != nil {
			sessionLog.Warn("kill_all_skip", slog.String("session", s.ID), slog.String("error", err.Error()))
			continue
		}
		killed++
	}
	return killed, nil
}

// History returns the session's output, preferring the append-only log over
// the live pane so scrolled-away content is retained. lines > 0 limits to
// the tail.
func (m *Manager) History(id string, lines int) (string, error) {
	if !m.driver.Exists(id) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	history, err := m.driver.ReadLog(id, lines)
	if err != nil {
		sessionLog.Debug("log_read_failed_falling_back",
			slog.String("session", id),
			slog.String("error", err.Error()))
		return m.driver.Capture(id, lines)
	}
	return history, nil
}

// Export writes the session's full history to path, creating parent
// directories as needed. clean strips ANSI escape sequences first.
func (m *Manager) Export(id, path string, clean bool) error {
	history, err := m.History(id, 0)
	if err != nil {
		return err
	}
	if clean {
		history = StripANSI(history)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(history), 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	sessionLog.Info("history_exported", slog.String("session", id), slog.String("path", path))
	return nil
}
