package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver serves canned pane content without tmux.
type fakeDriver struct {
	mu        sync.Mutex
	captureFn func(call int) (string, error)
	calls     int
}

func (f *fakeDriver) Capture(name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.captureFn(f.calls)
}

func (f *fakeDriver) captureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticOutput(s string) *fakeDriver {
	return &fakeDriver{captureFn: func(int) (string, error) { return s, nil }}
}

// newTestDetector returns a detector with intervals compressed for tests.
func newTestDetector(t *testing.T, driver Driver) *Detector {
	t.Helper()
	d := New(driver, t.TempDir(), DefaultMarkers())
	d.SentinelPoll = 20 * time.Millisecond
	d.Grace = 20 * time.Millisecond
	d.HeuristicPoll = 40 * time.Millisecond
	return d
}

func TestAwaitCompletion_StaleSentinelIgnored(t *testing.T) {
	var n atomic.Int64
	driver := &fakeDriver{captureFn: func(int) (string, error) {
		// Output changes on every poll so stability never fires
		return fmt.Sprintf("plain output %d", n.Add(1)), nil
	}}
	d := newTestDetector(t, driver)

	// Sentinel left over from a previous turn
	require.NoError(t, d.WriteSentinel("s1"))

	start := time.Now()
	_, err := d.AwaitCompletion(context.Background(), "s1", 300*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout, "stale sentinel must not complete a fresh wait")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	_, statErr := os.Stat(d.SentinelPath("s1"))
	assert.True(t, os.IsNotExist(statErr), "stale sentinel should have been deleted at wait start")
}

func TestAwaitCompletion_SentinelCompletes(t *testing.T) {
	// Pane shows a progress indicator the whole time: the sentinel must win
	// regardless of heuristic content.
	driver := staticOutput("Thinking… (esc to interrupt)\nfinal answer below")
	d := newTestDetector(t, driver)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = d.WriteSentinel("s1")
	}()

	start := time.Now()
	output, err := d.AwaitCompletion(context.Background(), "s1", 5*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Contains(t, output, "final answer below")
	assert.Less(t, elapsed, time.Second, "sentinel should complete promptly")

	_, statErr := os.Stat(d.SentinelPath("s1"))
	assert.True(t, os.IsNotExist(statErr), "sentinel should be consumed")
}

func TestAwaitCompletion_StabilityCompletes(t *testing.T) {
	const pane = "assistant wrote some text\nand stopped"
	driver := staticOutput(pane)
	d := newTestDetector(t, driver)

	output, err := d.AwaitCompletion(context.Background(), "s1", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, pane, output)
	// Baseline poll plus threshold identical polls
	assert.GreaterOrEqual(t, driver.captureCalls(), StabilityThreshold+1)
}

func TestAwaitCompletion_WorkingMarkerBlocksCompletion(t *testing.T) {
	// Completion marker and progress indicator in the same stable text: the
	// progress indicator must suppress both marker and stability completion.
	driver := staticOutput("✓ Task completed\nWibbling… (esc to interrupt)")
	d := newTestDetector(t, driver)

	start := time.Now()
	_, err := d.AwaitCompletion(context.Background(), "s1", 400*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestAwaitCompletion_TimeoutLaw(t *testing.T) {
	var n atomic.Int64
	driver := &fakeDriver{captureFn: func(int) (string, error) {
		return fmt.Sprintf("never the same %d", n.Add(1)), nil
	}}
	d := newTestDetector(t, driver)

	timeout := 300 * time.Millisecond
	start := time.Now()
	_, err := d.AwaitCompletion(context.Background(), "s1", timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout, "must not time out early")
	assert.LessOrEqual(t, elapsed, timeout+d.SentinelPoll+100*time.Millisecond,
		"overrun bounded by one poll interval")
}

func TestAwaitCompletion_HeuristicCaptureErrorPropagates(t *testing.T) {
	captureErr := errors.New("pane went away")
	driver := &fakeDriver{captureFn: func(int) (string, error) { return "", captureErr }}
	d := newTestDetector(t, driver)

	_, err := d.AwaitCompletion(context.Background(), "s1", 2*time.Second)
	require.ErrorIs(t, err, captureErr)
}

func TestAwaitCompletion_ContextCancel(t *testing.T) {
	driver := staticOutput("Thinking…")
	d := newTestDetector(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := d.AwaitCompletion(ctx, "s1", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitCompletion_EndToEnd(t *testing.T) {
	// Scaled version of the full scenario: an external actor writes the
	// sentinel 200ms into a 3s wait; the wait returns shortly after with the
	// pane text of that moment and the sentinel is gone.
	const pane = "> hello\nHello! How can I help you today?"
	driver := staticOutput(pane)
	d := newTestDetector(t, driver)

	sentinel := d.SentinelPath("s1")
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = os.WriteFile(sentinel, nil, 0644)
	}()

	start := time.Now()
	output, err := d.AwaitCompletion(context.Background(), "s1", 3*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, pane, output)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 800*time.Millisecond)

	_, statErr := os.Stat(sentinel)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSentinelPath(t *testing.T) {
	d := New(staticOutput(""), "/run/claudepilot", DefaultMarkers())
	assert.Equal(t, "/run/claudepilot/s1.done", d.SentinelPath("s1"))
}

func TestWriteSentinel_CreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/runtime"
	d := New(staticOutput(""), dir, DefaultMarkers())

	require.NoError(t, d.WriteSentinel("s1"))
	_, err := os.Stat(d.SentinelPath("s1"))
	assert.NoError(t, err)
}
