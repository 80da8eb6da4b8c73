package main

import (
	"fmt"
	"os"

	"github.com/alex/claudepilot/internal/config"
	"github.com/alex/claudepilot/internal/detect"
	"github.com/alex/claudepilot/internal/session"
	"github.com/alex/claudepilot/internal/tmux"
)

func handleHooks(cfg config.Config, args []string) {
	if len(args) != 1 {
		fatalf("usage: claudepilot hooks <install|remove|status>")
	}

	configDir, err := cfg.HookConfigDir()
	if err != nil {
		fatalf("hooks: %v", err)
	}

	switch args[0] {
	case "install":
		installed, err := session.InstallHooks(configDir)
		if err != nil {
			fatalf("hooks install: %v", err)
		}
		if installed {
			fmt.Printf("Completion hook installed in %s\n", configDir)
			fmt.Println("Restart running Claude Code sessions to pick it up.")
		} else {
			fmt.Println("Completion hook already installed.")
		}
	case "remove":
		removed, err := session.RemoveHooks(configDir)
		if err != nil {
			fatalf("hooks remove: %v", err)
		}
		if removed {
			fmt.Println("Completion hook removed.")
		} else {
			fmt.Println("No completion hook was installed.")
		}
	case "status":
		if session.HooksInstalled(configDir) {
			fmt.Println("Completion hook: installed")
		} else {
			fmt.Println("Completion hook: not installed")
			fmt.Println("Without it, turn detection falls back to slower text heuristics.")
			fmt.Println("Run: claudepilot hooks install")
		}
	default:
		fatalf("unknown hooks subcommand: %s", args[0])
	}
}

// handleHookHandler runs as the assistant's Stop hook inside a managed tmux
// session. It resolves the enclosing session name and drops the completion
// sentinel. It must always exit 0; a failing hook would stall the assistant.
func handleHookHandler(cfg config.Config) {
	client := tmux.NewClient()
	name, err := client.CurrentSession()
	if err != nil {
		// Not inside tmux, or an unmanaged session. Nothing to signal.
		os.Exit(0)
	}

	detector := detect.New(client, cfg.RuntimeDir, cfg.EffectiveMarkers())
	_ = detector.WriteSentinel(name)
	os.Exit(0)
}
