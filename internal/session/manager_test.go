package session

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex/claudepilot/internal/detect"
)

// fakeDriver is an in-memory Driver that records every mutating call.
type fakeDriver struct {
	mu         sync.Mutex
	dir        string
	sessions   map[string]string
	logs       map[string]string
	logErr     error
	captureErr map[string]error
	destroyErr map[string]error
	calls      []string
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	return &fakeDriver{
		dir:        t.TempDir(),
		sessions:   make(map[string]string),
		logs:       make(map[string]string),
		captureErr: make(map[string]error),
		destroyErr: make(map[string]error),
	}
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDriver) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[name]
	return ok
}

func (f *fakeDriver) Create(name, workDir, command string) error {
	f.record("create:" + name)
	f.mu.Lock()
	f.sessions[name] = ""
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Destroy(name string) error {
	if err := f.destroyErr[name]; err != nil {
		return err
	}
	f.record("destroy:" + name)
	f.mu.Lock()
	delete(f.sessions, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) SendText(name, text string) error {
	f.record("text:" + name)
	return nil
}

func (f *fakeDriver) SendSubmit(name string) error {
	f.record("submit:" + name)
	return nil
}

func (f *fakeDriver) Capture(name string, lines int) (string, error) {
	if err := f.captureErr[name]; err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name], nil
}

func (f *fakeDriver) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.sessions))
	for name := range f.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeDriver) ReadLog(name string, lines int) (string, error) {
	if f.logErr != nil {
		return "", f.logErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[name], nil
}

func (f *fakeDriver) LogPath(name string) string {
	return filepath.Join(f.dir, name+".log")
}

// infoDriver adds real creation times on top of the fake.
type infoDriver struct {
	*fakeDriver
	created time.Time
}

func (d *infoDriver) CreatedAt(name string) (time.Time, error) {
	return d.created, nil
}

func newTestManager(t *testing.T, driver Driver) *Manager {
	t.Helper()
	detector := detect.New(driver, t.TempDir(), detect.DefaultMarkers())
	return NewManager(driver, detector, Options{
		Settle:      time.Millisecond,
		SubmitDelay: time.Millisecond,
	})
}

func TestSendMissingSession(t *testing.T) {
	fake := newFakeDriver(t)
	m := newTestManager(t, fake)

	err := m.Send("claude-0101-000000", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	// The driver must never see text destined for a dead session.
	for _, call := range fake.recorded() {
		assert.False(t, strings.HasPrefix(call, "text:"), "unexpected call %q", call)
	}
}

func TestSendOrder(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-x"] = ""
	m := newTestManager(t, fake)

	require.NoError(t, m.Send("claude-x", "do the thing"))

	calls := fake.recorded()
	require.Equal(t, []string{"text:claude-x", "submit:claude-x"}, calls)
}

func TestStartGeneratesName(t *testing.T) {
	fake := newFakeDriver(t)
	m := newTestManager(t, fake)

	name, err := m.Start("", "", "/tmp/work")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, NamePrefix))
	assert.True(t, fake.Exists(name))

	// Empty message means nothing gets sent.
	for _, call := range fake.recorded() {
		assert.False(t, strings.HasPrefix(call, "text:"))
		assert.False(t, strings.HasPrefix(call, "submit:"))
	}
}

func TestStartReplacesExisting(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-dup"] = "old content"
	m := newTestManager(t, fake)

	name, err := m.Start("", "claude-dup", "")
	require.NoError(t, err)
	assert.Equal(t, "claude-dup", name)

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "destroy:claude-dup", calls[0])
	assert.Equal(t, "create:claude-dup", calls[1])
}

func TestStartDeliversInitialMessage(t *testing.T) {
	fake := newFakeDriver(t)
	m := newTestManager(t, fake)

	name, err := m.Start("summarize this repo", "claude-init", "")
	require.NoError(t, err)

	calls := fake.recorded()
	require.Equal(t, []string{"create:" + name, "text:" + name, "submit:" + name}, calls)
}

func TestListFiltersAndStatuses(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-0102-030405"] = "working away\nesc to interrupt"
	fake.sessions["myclaude"] = "some quiet prompt"
	fake.sessions["work"] = "Hello! How can I help you today?"
	fake.sessions["vim"] = ":wq"
	fake.sessions["claude-broken"] = ""
	fake.captureErr["claude-broken"] = errors.New("pane gone")
	m := newTestManager(t, fake)

	sessions, err := m.List()
	require.NoError(t, err)

	byID := make(map[string]Status)
	for _, s := range sessions {
		byID[s.ID] = s.Status
	}

	assert.Equal(t, StatusActive, byID["claude-0102-030405"])
	assert.Equal(t, StatusIdle, byID["myclaude"])
	assert.Equal(t, StatusIdle, byID["work"], "content sniff should claim the session")
	assert.Equal(t, StatusFailed, byID["claude-broken"])
	_, listed := byID["vim"]
	assert.False(t, listed, "unrelated session must be filtered out")
}

func TestListUsesDriverCreationTime(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	fake := newFakeDriver(t)
	fake.sessions["claude-a"] = ""
	driver := &infoDriver{fakeDriver: fake, created: created}
	m := newTestManager(t, driver)

	sessions, err := m.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created, sessions[0].CreatedAt)
}

func TestKillRemovesArtifacts(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-k"] = ""
	detector := detect.New(fake, t.TempDir(), detect.DefaultMarkers())
	m := NewManager(fake, detector, Options{Settle: time.Millisecond, SubmitDelay: time.Millisecond})

	require.NoError(t, detector.WriteSentinel("claude-k"))
	logPath := fake.LogPath("claude-k")
	require.NoError(t, os.WriteFile(logPath, []byte("output"), 0644))

	require.NoError(t, m.Kill("claude-k"))

	assert.False(t, fake.Exists("claude-k"))
	_, err := os.Stat(detector.SentinelPath("claude-k"))
	assert.True(t, os.IsNotExist(err), "sentinel should be removed")
	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err), "log should be removed")
}

func TestKillMissing(t *testing.T) {
	fake := newFakeDriver(t)
	m := newTestManager(t, fake)

	err := m.Kill("claude-gone")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestKillAllBestEffort(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-a"] = ""
	fake.sessions["claude-b"] = ""
	fake.sessions["claude-c"] = ""
	fake.destroyErr["claude-b"] = errors.New("tmux went away")
	m := newTestManager(t, fake)

	killed, err := m.KillAll()
	require.NoError(t, err)
	assert.Equal(t, 2, killed)
	assert.True(t, fake.Exists("claude-b"), "failed kill leaves the session")
}

func TestHistoryPrefersLog(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-h"] = "pane tail only"
	fake.logs["claude-h"] = "full scrollback from the log"
	m := newTestManager(t, fake)

	out, err := m.History("claude-h", 0)
	require.NoError(t, err)
	assert.Equal(t, "full scrollback from the log", out)
}

func TestHistoryFallsBackToCapture(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-h"] = "pane tail only"
	fake.logErr = errors.New("no log file")
	m := newTestManager(t, fake)

	out, err := m.History("claude-h", 50)
	require.NoError(t, err)
	assert.Equal(t, "pane tail only", out)
}

func TestExportClean(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-e"] = ""
	fake.logs["claude-e"] = "\x1b[32mdone\x1b[0m and dusted"
	m := newTestManager(t, fake)

	path := filepath.Join(t.TempDir(), "exports", "transcript.txt")
	require.NoError(t, m.Export("claude-e", path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "done and dusted", string(data))
}

func TestExportRaw(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-e"] = ""
	fake.logs["claude-e"] = "\x1b[32mdone\x1b[0m"
	m := newTestManager(t, fake)

	path := filepath.Join(t.TempDir(), "raw.txt")
	require.NoError(t, m.Export("claude-e", path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x1b[32mdone\x1b[0m", string(data))
}

func TestReady(t *testing.T) {
	fake := newFakeDriver(t)
	fake.sessions["claude-r"] = "claude-code> "
	m := newTestManager(t, fake)

	ready, err := m.Ready("claude-r")
	require.NoError(t, err)
	assert.True(t, ready)

	fake.sessions["claude-r"] = "still booting"
	ready, err = m.Ready("claude-r")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestSnapshotMissing(t *testing.T) {
	fake := newFakeDriver(t)
	m := newTestManager(t, fake)

	_, err := m.Snapshot("claude-none", 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}
