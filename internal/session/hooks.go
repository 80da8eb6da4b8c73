package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// pilotHookCommand identifies claudepilot's hook in the assistant's
// settings.json. The handler resolves the enclosing terminal session and
// writes the completion sentinel the detector waits on.
const pilotHookCommand = "claudepilot hook-handler"

// hookEvents are the assistant events we subscribe to. Stop is the one that
// matters: it fires when a turn finishes.
var hookEvents = []string{"Stop"}

// claudeHookEntry is a single hook entry in the assistant's settings.
type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// claudeHookMatcher is a matcher block (with optional pattern) in settings.
type claudeHookMatcher struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

func pilotHook() claudeHookEntry {
	return claudeHookEntry{
		Type:    "command",
		Command: pilotHookCommand,
		Async:   true,
	}
}

// InstallHooks injects the claudepilot hook entries into the assistant's
// settings.json under configDir. Existing settings and user hooks are
// preserved via read-modify-write. Returns true if hooks were newly
// installed, false if already present.
func InstallHooks(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return false, fmt.Errorf("parse settings.json: %w", err)
		}
	}

	var existingHooks map[string]json.RawMessage
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			existingHooks = make(map[string]json.RawMessage)
		}
	} else {
		existingHooks = make(map[string]json.RawMessage)
	}

	if hooksInstalled(existingHooks) {
		return false, nil
	}

	for _, event := range hookEvents {
		existingHooks[event] = mergeHookEvent(existingHooks[event])
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0644); err != nil {
		return false, fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("rename settings.json: %w", err)
	}

	sessionLog.Info("hooks_installed", slog.String("config_dir", configDir))
	return true, nil
}

// RemoveHooks deletes claudepilot's hook entries from settings.json.
// Returns true if anything was removed.
func RemoveHooks(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}

	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for _, event := range hookEvents {
		if raw, ok := existingHooks[event]; ok {
			cleaned, didRemove := removePilotFromEvent(raw)
			if didRemove {
				removed = true
				if cleaned == nil {
					delete(existingHooks, event)
				} else {
					existingHooks[event] = cleaned
				}
			}
		}
	}

	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksData, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksData
	}

	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal settings: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0644); err != nil {
		return false, fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("rename settings.json: %w", err)
	}

	sessionLog.Info("hooks_removed", slog.String("config_dir", configDir))
	return true, nil
}

// HooksInstalled checks whether claudepilot's hooks are present.
func HooksInstalled(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return false
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false
	}

	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false
	}

	return hooksInstalled(existingHooks)
}

func hooksInstalled(hooks map[string]json.RawMessage) bool {
	for _, event := range hookEvents {
		raw, ok := hooks[event]
		if !ok {
			return false
		}
		if !eventHasPilotHook(raw) {
			return false
		}
	}
	return true
}

func eventHasPilotHook(raw json.RawMessage) bool {
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, pilotHookCommand) {
				return true
			}
		}
	}
	return false
}

// mergeHookEvent appends our hook to an event's matcher array, preserving
// everything already there.
func mergeHookEvent(existing json.RawMessage) json.RawMessage {
	var matchers []claudeHookMatcher

	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	for i, m := range matchers {
		if m.Matcher != "" {
			continue
		}
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, pilotHookCommand) {
				result, _ := json.Marshal(matchers)
				return result
			}
		}
		matchers[i].Hooks = append(matchers[i].Hooks, pilotHook())
		result, _ := json.Marshal(matchers)
		return result
	}

	matchers = append(matchers, claudeHookMatcher{
		Hooks: []claudeHookEntry{pilotHook()},
	})
	result, _ := json.Marshal(matchers)
	return result
}

// removePilotFromEvent strips our hook entries from an event's matcher array.
// Returns cleaned JSON and whether any removal happened; nil JSON when the
// array ends up empty.
func removePilotFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []claudeHookMatcher

	for _, m := range matchers {
		var hooks []claudeHookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, pilotHookCommand) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) > 0 {
			m.Hooks = hooks
			cleaned = append(cleaned, m)
		} else {
			removed = true
		}
	}

	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}

	result, _ := json.Marshal(cleaned)
	return result, true
}
