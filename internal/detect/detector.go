package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alex/claudepilot/internal/logging"
)

var detectLog = logging.ForComponent(logging.CompDetect)

// ErrTimeout is returned when neither the sentinel nor the text heuristics
// classified the turn as complete within the caller's budget.
var ErrTimeout = errors.New("timed out waiting for completion")

// Driver is the slice of the terminal layer the detector needs: read-only
// pane snapshots.
type Driver interface {
	Capture(name string, lines int) (string, error)
}

// Detector waits for an assistant turn to finish in a terminal session.
//
// Two signal sources feed a single sequential wait loop sharing one deadline:
// the sentinel file written by the integration hook (checked every
// SentinelPoll, accelerated by an fsnotify watch when available) and the text
// heuristics (every HeuristicPoll). The sentinel is authoritative and checked
// first; the heuristics carry environments where the hook is not installed.
// Concurrent waits on the same session are not supported; they would race on
// the sentinel file.
type Detector struct {
	driver     Driver
	runtimeDir string
	markers    Markers

	// SentinelPoll is the sentinel existence check interval.
	SentinelPoll time.Duration

	// Grace is how long to wait after the sentinel appears before capturing,
	// letting trailing output flush.
	Grace time.Duration

	// HeuristicPoll is the capture-and-classify interval.
	HeuristicPoll time.Duration

	// Threshold is the consecutive-unchanged-poll count that completes by
	// stability.
	Threshold int
}

// New returns a Detector with production intervals. Tests shrink the interval
// fields directly.
func New(driver Driver, runtimeDir string, markers Markers) *Detector {
	return &Detector{
		driver:        driver,
		runtimeDir:    runtimeDir,
		markers:       markers,
		SentinelPoll:  500 * time.Millisecond,
		Grace:         500 * time.Millisecond,
		HeuristicPoll: 3 * time.Second,
		Threshold:     StabilityThreshold,
	}
}

// SentinelPath returns the per-session completion sentinel path.
func (d *Detector) SentinelPath(sessionID string) string {
	return filepath.Join(d.runtimeDir, sessionID+".done")
}

// WriteSentinel creates the completion sentinel for a session. Used by the
// hook handler; content is irrelevant, only existence matters.
func (d *Detector) WriteSentinel(sessionID string) error {
	if err := os.MkdirAll(d.runtimeDir, 0755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.WriteFile(d.SentinelPath(sessionID), nil, 0644); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// AwaitCompletion blocks until the session's current turn finishes and
// returns the final captured output. It fails with ErrTimeout when the budget
// runs out; capture failures from the heuristic path propagate, while
// sentinel file-system failures only disable the hook path for this wait.
//
// Any sentinel left over from a previous turn is deleted before waiting, so a
// stale signal can never complete a fresh wait.
func (d *Detector) AwaitCompletion(ctx context.Context, sessionID string, timeout time.Duration) (string, error) {
	sentinel := d.SentinelPath(sessionID)

	if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
		detectLog.Warn("stale_sentinel_remove_failed",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}

	deadline := time.Now().Add(timeout)
	detectLog.Info("await_completion_start",
		slog.String("session", sessionID),
		slog.Duration("timeout", timeout),
		slog.String("sentinel", sentinel))

	// fsnotify shortens sentinel latency when the platform delivers events;
	// the existence poll below remains the contract.
	events, stopWatch := d.watchRuntimeDir(sessionID)
	defer stopWatch()

	var prev string
	stable := 0
	nextHeuristic := time.Now().Add(d.HeuristicPoll)

	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !time.Now().Before(deadline) {
			detectLog.Warn("await_completion_timeout", slog.String("session", sessionID))
			return "", fmt.Errorf("session %s: %w", sessionID, ErrTimeout)
		}

		// Hook tier: sentinel presence wins over everything else.
		if _, err := os.Stat(sentinel); err == nil {
			detectLog.Info("completion_via_sentinel", slog.String("session", sessionID))
			time.Sleep(d.Grace)
			output, captureErr := d.driver.Capture(sessionID, 0)
			if captureErr != nil {
				// Hook-tier failure: leave the sentinel for the next iteration
				// and let the heuristics carry on.
				detectLog.Warn("post_sentinel_capture_failed",
					slog.String("session", sessionID),
					slog.String("error", captureErr.Error()))
			} else {
				_ = os.Remove(sentinel)
				return output, nil
			}
		}

		// Heuristic tier, on its coarser cadence.
		if !time.Now().Before(nextHeuristic) {
			nextHeuristic = time.Now().Add(d.HeuristicPoll)

			cur, err := d.driver.Capture(sessionID, 0)
			if err != nil {
				return "", err
			}

			verdict, n := d.markers.Classify(prev, cur, stable, d.Threshold)
			stable = n
			detectLog.Debug("heuristic_poll",
				slog.String("session", sessionID),
				slog.String("verdict", verdict.String()),
				slog.Int("stable", stable))

			switch verdict {
			case VerdictComplete:
				return cur, nil
			case VerdictChanged, VerdictWorking:
				prev = cur
			}
		}

		d.sleepUntilSignal(ctx, events, deadline)
	}
}

// sleepUntilSignal suspends for one sentinel poll interval, waking early on a
// runtime-dir file event, context cancellation, or the deadline.
func (d *Detector) sleepUntilSignal(ctx context.Context, events <-chan fsnotify.Event, deadline time.Time) {
	interval := d.SentinelPoll
	if remaining := time.Until(deadline); remaining < interval {
		interval = remaining
	}
	if interval <= 0 {
		return
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-events:
	}
}

// watchRuntimeDir sets up a best-effort fsnotify watch for the session's
// sentinel. Returns a nil channel (blocks forever in select) when watching is
// unavailable; the poll loop still works. The stop func tears the watch down.
func (d *Detector) watchRuntimeDir(sessionID string) (<-chan fsnotify.Event, func()) {
	noop := func() {}
	if err := os.MkdirAll(d.runtimeDir, 0755); err != nil {
		detectLog.Debug("runtime_dir_create_failed", slog.String("error", err.Error()))
		return nil, noop
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		detectLog.Debug("fsnotify_unavailable", slog.String("error", err.Error()))
		return nil, noop
	}
	if err := watcher.Add(d.runtimeDir); err != nil {
		_ = watcher.Close()
		detectLog.Debug("fsnotify_watch_failed", slog.String("error", err.Error()))
		return nil, noop
	}

	sentinel := d.SentinelPath(sessionID)
	out := make(chan fsnotify.Event, 1)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != sentinel || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, func() { _ = watcher.Close() }
}
