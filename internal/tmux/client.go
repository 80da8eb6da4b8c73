// Package tmux shells out to the tmux binary to provide named, persistent
// terminal sessions. It is the concrete driver behind the session manager
// and the completion detector; everything above it talks to an interface.
package tmux

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alex/claudepilot/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// captureTTL is how long a captured pane snapshot stays fresh. Polling loops
// in the detector run at 500ms or slower, so a 400ms TTL never masks a new poll.
const captureTTL = 400 * time.Millisecond

// Client runs tmux commands. The zero value is not usable; call NewClient.
type Client struct {
	cacheMu sync.RWMutex
	caches  map[string]paneCache

	captureSf singleflight.Group
}

type paneCache struct {
	content string
	at      time.Time
}

// NewClient returns a tmux client.
func NewClient() *Client {
	return &Client{caches: make(map[string]paneCache)}
}

// Available checks if tmux is installed and accessible.
func Available() error {
	cmd := exec.Command("tmux", "-V")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// BaseDir returns the claudepilot data directory (~/.claudepilot, or
// $CLAUDEPILOT_DIR when set).
func BaseDir() string {
	if dir := os.Getenv("CLAUDEPILOT_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".claudepilot")
	}
	return filepath.Join(home, ".claudepilot")
}

// LogDir returns the directory containing per-session output logs.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the path of a session's append-only output log.
func (c *Client) LogPath(name string) string {
	return filepath.Join(LogDir(), name+".log")
}

// Exists checks if the tmux session exists.
func (c *Client) Exists(name string) bool {
	cmd := exec.Command("tmux", "has-session", "-t", name)
	return cmd.Run() == nil
}

// Create starts a detached tmux session named name. An empty workDir falls
// back to $HOME. A non-empty command becomes the session's program; the
// session dies when it exits. Output logging is enabled via pipe-pane so
// History can read past the visible pane.
func (c *Client) Create(name, workDir, command string) error {
	if workDir == "" {
		workDir = os.Getenv("HOME")
	}

	args := []string{"new-session", "-d", "-s", name, "-c", workDir}
	if command != "" {
		args = append(args, command)
	}

	cmd := exec.Command("tmux", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{Op: "new-session", Target: name, Output: strings.TrimSpace(string(output)), Err: err}
	}

	// Large scrollback for assistant output; fast escape for TUI responsiveness.
	// Batched into one subprocess call, failures are non-fatal.
	_ = exec.Command("tmux",
		"set-option", "-t", name, "history-limit", "10000", ";",
		"set-option", "-t", name, "escape-time", "10").Run()

	if err := c.PipeLog(name); err != nil {
		tmuxLog.Warn("pipe_log_failed", slog.String("session", name), slog.String("error", err.Error()))
	}

	tmuxLog.Info("session_created", slog.String("session", name), slog.String("workdir", workDir))
	return nil
}

// Destroy kills the tmux session. A session that is already gone is not an
// error.
func (c *Client) Destroy(name string) error {
	c.invalidateCache(name)

	cmd := exec.Command("tmux", "kill-session", "-t", name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		stderr := strings.TrimSpace(string(output))
		if strings.Contains(stderr, "no server running") ||
			strings.Contains(stderr, "session not found") ||
			strings.Contains(stderr, "can't find session") {
			return nil
		}
		return &CommandError{Op: "kill-session", Target: name, Output: stderr, Err: err}
	}

	tmuxLog.Info("session_killed", slog.String("session", name))
	return nil
}

// SendText writes literal text into the session's input without submitting it.
// The -l flag makes tmux treat the string as literal text, not key names,
// so "Enter" in a message is never interpreted as the Enter key.
// Content over 4KB is split at newline boundaries to stay under tmux buffer
// limits, with a short delay between chunks.
func (c *Client) SendText(name, text string) error {
	c.invalidateCache(name)

	const chunkSize = 4096
	const chunkDelay = 50 * time.Millisecond

	chunks := splitIntoChunks(text, chunkSize)
	for i, chunk := range chunks {
		cmd := exec.Command("tmux", "send-keys", "-l", "-t", name, "--", chunk)
		if output, err := cmd.CombinedOutput(); err != nil {
			return &CommandError{
				Op:     "send-keys",
				Target: name,
				Output: strings.TrimSpace(string(output)),
				Err:    fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err),
			}
		}
		if i < len(chunks)-1 {
			time.Sleep(chunkDelay)
		}
	}
	return nil
}

// SendSubmit sends the Enter key to execute previously written input.
func (c *Client) SendSubmit(name string) error {
	c.invalidateCache(name)
	cmd := exec.Command("tmux", "send-keys", "-t", name, "Enter")
	if output, err := cmd.CombinedOutput(); err != nil {
		return &CommandError{Op: "send-keys", Target: name, Output: strings.TrimSpace(string(output)), Err: err}
	}
	return nil
}

// Capture returns the session's pane text. lines <= 0 captures the visible
// pane; lines > 0 includes that much scrollback. -J joins wrapped lines so
// resizes don't change the captured bytes. Snapshots are cached briefly and
// concurrent captures of the same pane are deduplicated via singleflight.
func (c *Client) Capture(name string, lines int) (string, error) {
	key := name + "\x00" + strconv.Itoa(lines)

	c.cacheMu.RLock()
	if cached, ok := c.caches[key]; ok && time.Since(cached.at) < captureTTL {
		c.cacheMu.RUnlock()
		return cached.content, nil
	}
	c.cacheMu.RUnlock()

	v, err, _ := c.captureSf.Do(key, func() (interface{}, error) {
		c.cacheMu.RLock()
		if cached, ok := c.caches[key]; ok && time.Since(cached.at) < captureTTL {
			c.cacheMu.RUnlock()
			return cached.content, nil
		}
		c.cacheMu.RUnlock()

		args := []string{"capture-pane", "-t", name, "-p", "-J"}
		if lines > 0 {
			args = append(args, "-S", fmt.Sprintf("-%d", lines))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "tmux", args...)
		output, err := cmd.Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", ErrCaptureTimeout
			}
			return "", &CommandError{Op: "capture-pane", Target: name, Err: err}
		}

		content := string(output)
		c.cacheMu.Lock()
		c.caches[key] = paneCache{content: content, at: time.Now()}
		c.cacheMu.Unlock()

		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// List returns the names of all tmux sessions. A missing tmux server means
// no sessions, not an error.
func (c *Client) List() ([]string, error) {
	cmd := exec.Command("tmux", "list-sessions", "-F", "#{session_name}")
	output, err := cmd.Output()
	if err != nil {
		// tmux exits non-zero when no server is running
		if _, ok := err.(*exec.ExitError); ok {
			return nil, nil
		}
		return nil, &CommandError{Op: "list-sessions", Err: err}
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SessionInfo describes a tmux session as reported by display-message.
type SessionInfo struct {
	Name     string
	Created  time.Time
	Windows  int
	Attached bool
}

// Info queries tmux for session metadata.
func (c *Client) Info(name string) (SessionInfo, error) {
	cmd := exec.Command("tmux", "display-message", "-t", name, "-p",
		"#{session_name}:#{session_created}:#{session_windows}:#{session_attached}")
	output, err := cmd.Output()
	if err != nil {
		return SessionInfo{}, &CommandError{Op: "display-message", Target: name, Err: err}
	}
	return parseSessionInfo(strings.TrimSpace(string(output)))
}

// CreatedAt reports when the tmux server created the session.
func (c *Client) CreatedAt(name string) (time.Time, error) {
	info, err := c.Info(name)
	if err != nil {
		return time.Time{}, err
	}
	return info.Created, nil
}

func parseSessionInfo(s string) (SessionInfo, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return SessionInfo{}, &ParseError{Input: s, Reason: "want 4 colon-separated fields"}
	}
	created, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return SessionInfo{}, &ParseError{Input: s, Reason: "session_created is not a unix timestamp"}
	}
	windows, err := strconv.Atoi(parts[2])
	if err != nil {
		return SessionInfo{}, &ParseError{Input: s, Reason: "session_windows is not a number"}
	}
	return SessionInfo{
		Name:     parts[0],
		Created:  time.Unix(created, 0),
		Windows:  windows,
		Attached: parts[3] == "1",
	}, nil
}

// CurrentSession returns the name of the tmux session the calling process
// runs inside. Fails outside tmux.
func (c *Client) CurrentSession() (string, error) {
	if os.Getenv("TMUX") == "" {
		return "", fmt.Errorf("not inside a tmux session")
	}
	cmd := exec.Command("tmux", "display-message", "-p", "#{session_name}")
	output, err := cmd.Output()
	if err != nil {
		return "", &CommandError{Op: "display-message", Err: err}
	}
	name := strings.TrimSpace(string(output))
	if name == "" {
		return "", &ParseError{Input: name, Reason: "empty session name"}
	}
	return name, nil
}

// PipeLog starts appending the session's output to its log file. Safe to call
// for sessions that already pipe; tmux replaces the previous pipe.
func (c *Client) PipeLog(name string) error {
	logPath := c.LogPath(name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	cmd := exec.Command("tmux", "pipe-pane", "-t", name,
		fmt.Sprintf("cat >> '%s'", logPath))
	if output, err := cmd.CombinedOutput(); err != nil {
		return &CommandError{Op: "pipe-pane", Target: name, Output: strings.TrimSpace(string(output)), Err: err}
	}
	return nil
}

// ReadLog returns the session's logged output. lines > 0 limits to the last
// that many lines. A missing log file is an error the caller may fall back on.
func (c *Client) ReadLog(name string, lines int) (string, error) {
	data, err := os.ReadFile(c.LogPath(name))
	if err != nil {
		return "", fmt.Errorf("read session log: %w", err)
	}
	if lines <= 0 {
		return string(data), nil
	}
	return lastLines(string(data), lines), nil
}

// Attach replaces this process's terminal with the tmux session until the
// user detaches.
func (c *Client) Attach(name string) error {
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{Op: "attach-session", Target: name, Err: err}
	}
	return nil
}

func (c *Client) invalidateCache(name string) {
	c.cacheMu.Lock()
	for key := range c.caches {
		if strings.HasPrefix(key, name+"\x00") {
			delete(c.caches, key)
		}
	}
	c.cacheMu.Unlock()
}

// lastLines returns the final n lines of content.
func lastLines(content string, n int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// splitIntoChunks splits content into chunks of at most maxSize bytes,
// preferring to split at newline boundaries. If a single line exceeds maxSize,
// it is split at the byte boundary as a fallback.
func splitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	remaining := content

	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}

		cutPoint := strings.LastIndex(remaining[:maxSize], "\n")
		if cutPoint > 0 {
			chunks = append(chunks, remaining[:cutPoint+1])
			remaining = remaining[cutPoint+1:]
		} else {
			chunks = append(chunks, remaining[:maxSize])
			remaining = remaining[maxSize:]
		}
	}

	return chunks
}
