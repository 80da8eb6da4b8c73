package main

import (
	"fmt"
	"os"

	"github.com/alex/claudepilot/internal/config"
	"github.com/alex/claudepilot/internal/detect"
	"github.com/alex/claudepilot/internal/logging"
	"github.com/alex/claudepilot/internal/session"
	"github.com/alex/claudepilot/internal/tmux"
)

const Version = "0.3.0"

func main() {
	cfg, cfgErr := config.Load()

	logging.Init(cfg.LoggingConfig())
	defer logging.Shutdown()

	if cfgErr != nil {
		// A broken config file should not brick the tool; defaults apply.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", cfgErr)
	}

	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("claudepilot v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "start":
		requireTmux()
		handleStart(cfg, args[1:])
	case "send":
		requireTmux()
		handleSend(cfg, args[1:])
	case "wait":
		requireTmux()
		handleWait(cfg, args[1:])
	case "status":
		requireTmux()
		handleStatus(cfg, args[1:])
	case "list", "ls":
		requireTmux()
		handleList(cfg, args[1:])
	case "kill":
		requireTmux()
		handleKill(cfg, args[1:])
	case "kill-all":
		requireTmux()
		handleKillAll(cfg, args[1:])
	case "history":
		requireTmux()
		handleHistory(cfg, args[1:])
	case "export":
		requireTmux()
		handleExport(cfg, args[1:])
	case "attach":
		requireTmux()
		handleAttach(cfg, args[1:])
	case "hooks":
		handleHooks(cfg, args[1:])
	case "hook-handler":
		// Invoked by the assistant's Stop hook, never by humans.
		handleHookHandler(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

// requireTmux exits early with install guidance when tmux is missing.
func requireTmux() {
	if err := tmux.Available(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		fmt.Fprintln(os.Stderr, "\nclaudepilot drives Claude Code inside tmux. Install with:")
		fmt.Fprintln(os.Stderr, "  brew install tmux    # macOS")
		fmt.Fprintln(os.Stderr, "  apt install tmux     # Debian/Ubuntu")
		os.Exit(1)
	}
}

// newManager assembles the production wiring: tmux driver, detector tuned
// from config, manager on top.
func newManager(cfg config.Config) (*session.Manager, *tmux.Client, *detect.Detector) {
	client := tmux.NewClient()
	detector := detect.New(client, cfg.RuntimeDir, cfg.EffectiveMarkers())
	cfg.ApplyDetection(detector)
	mgr := session.NewManager(client, detector, session.Options{
		Command:     cfg.Command,
		Settle:      cfg.Settle(),
		SubmitDelay: cfg.SubmitDelay(),
	})
	return mgr, client, detector
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printHelp() {
	fmt.Print(`claudepilot - drive Claude Code sessions inside tmux

Usage:
  claudepilot <command> [arguments]

Sessions:
  start [flags] [message]      Create a session, optionally send a first message
      -name <name>                 session name (default: claude-<timestamp>)
      -dir <path>                  working directory for the session
      -wait                        block until the turn completes
      -timeout <dur>               wait budget (default from config)
  send [flags] <name> <message>  Send a message to a session
      -wait, -timeout              as for start
  wait [flags] <name>          Block until the current turn completes
  status <name>                Show one session's state and recent output
  list, ls [-json]             List managed sessions
  attach <name>                Attach the current terminal to a session
  kill <name>                  Destroy a session and its artifacts
  kill-all                     Destroy every managed session

Output:
  history [-lines N] <name>    Print session output (full log when available)
  export [-clean] <name> <path>  Write session history to a file

Hooks:
  hooks install                Add the completion hook to Claude settings
  hooks remove                 Remove the completion hook
  hooks status                 Report whether the hook is installed

Other:
  version                      Print the version
  help                         Show this help
`)
}
