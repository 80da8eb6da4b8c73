package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/alex/claudepilot/internal/config"
	"github.com/alex/claudepilot/internal/session"
)

func handleStart(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	name := fs.String("name", "", "session name (default: generated)")
	dir := fs.String("dir", "", "working directory for the session")
	wait := fs.Bool("wait", false, "block until the first turn completes")
	timeout := fs.Duration("timeout", cfg.Timeout(), "completion wait budget")
	_ = fs.Parse(args)

	message := strings.Join(fs.Args(), " ")

	mgr, _, _ := newManager(cfg)
	id, err := mgr.Start(message, *name, *dir)
	if err != nil {
		fatalf("start session: %v", err)
	}
	fmt.Println(id)

	if *wait && message != "" {
		waitAndPrint(cfg, mgr, id, *timeout)
	}
}

func handleSend(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	wait := fs.Bool("wait", false, "block until the turn completes")
	timeout := fs.Duration("timeout", cfg.Timeout(), "completion wait budget")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fatalf("usage: claudepilot send [flags] <session> <message>")
	}
	id := rest[0]
	message := strings.Join(rest[1:], " ")

	mgr, _, _ := newManager(cfg)
	if err := mgr.Send(id, message); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fatalf("no such session: %s", id)
		}
		fatalf("send: %v", err)
	}

	if *wait {
		waitAndPrint(cfg, mgr, id, *timeout)
	}
}

func handleWait(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	timeout := fs.Duration("timeout", cfg.Timeout(), "completion wait budget")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fatalf("usage: claudepilot wait [flags] <session>")
	}

	mgr, _, _ := newManager(cfg)
	waitAndPrint(cfg, mgr, fs.Arg(0), *timeout)
}

// waitAndPrint blocks on turn completion and prints the final output.
// Ctrl-C cancels the wait cleanly; a timeout exits 2 so scripts can tell
// "still running" from hard failures.
func waitAndPrint(cfg config.Config, mgr *session.Manager, id string, timeout time.Duration) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output, err := mgr.AwaitCompletion(ctx, id, timeout)
	switch {
	case err == nil:
		fmt.Println(output)
	case errors.Is(err, session.ErrTimeout):
		fmt.Fprintf(os.Stderr, "Timed out after %s waiting on %s\n", timeout, id)
		os.Exit(2)
	case errors.Is(err, session.ErrNotFound):
		fatalf("no such session: %s", id)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(130)
	default:
		fatalf("wait: %v", err)
	}
}

func handleStatus(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	lines := fs.Int("lines", 15, "snapshot lines to show")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fatalf("usage: claudepilot status [flags] <session>")
	}
	id := fs.Arg(0)

	mgr, _, _ := newManager(cfg)
	sessions, err := mgr.List()
	if err != nil {
		fatalf("status: %v", err)
	}

	for _, s := range sessions {
		if s.ID != id {
			continue
		}
		fmt.Printf("Session:  %s\n", s.ID)
		fmt.Printf("Status:   %s\n", s.Status)
		fmt.Printf("Created:  %s\n", s.CreatedAt.Format(time.RFC3339))

		snapshot, err := mgr.Snapshot(id, *lines)
		if err == nil && strings.TrimSpace(snapshot) != "" {
			fmt.Printf("\nRecent output:\n%s\n", snapshot)
		}
		return
	}
	fatalf("no such session: %s", id)
}

func handleList(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "machine-readable output")
	_ = fs.Parse(args)

	mgr, _, _ := newManager(cfg)
	sessions, err := mgr.List()
	if err != nil {
		fatalf("list: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sessions); err != nil {
			fatalf("encode: %v", err)
		}
		return
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}

	fmt.Printf("%-24s %-8s %s\n", "NAME", "STATUS", "CREATED")
	for _, s := range sessions {
		fmt.Printf("%-24s %-8s %s\n", s.ID, s.Status, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func handleKill(cfg config.Config, args []string) {
	if len(args) != 1 {
		fatalf("usage: claudepilot kill <session>")
	}
	id := args[0]

	mgr, _, _ := newManager(cfg)
	if err := mgr.Kill(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fatalf("no such session: %s", id)
		}
		fatalf("kill: %v", err)
	}
	fmt.Printf("Killed %s\n", id)
}

func handleKillAll(cfg config.Config, args []string) {
	mgr, _, _ := newManager(cfg)
	killed, err := mgr.KillAll()
	if err != nil {
		fatalf("kill-all: %v", err)
	}
	fmt.Printf("Killed %d session(s)\n", killed)
}

func handleHistory(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	lines := fs.Int("lines", 0, "limit to the last N lines (0 = everything)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fatalf("usage: claudepilot history [flags] <session>")
	}
	id := fs.Arg(0)

	mgr, _, _ := newManager(cfg)
	out, err := mgr.History(id, *lines)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fatalf("no such session: %s", id)
		}
		fatalf("history: %v", err)
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
}

func handleExport(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	clean := fs.Bool("clean", false, "strip ANSI escape sequences")
	_ = fs.Parse(args)

	if fs.NArg() != 2 {
		fatalf("usage: claudepilot export [flags] <session> <path>")
	}
	id, path := fs.Arg(0), fs.Arg(1)

	mgr, _, _ := newManager(cfg)
	if err := mgr.Export(id, path, *clean); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fatalf("no such session: %s", id)
		}
		fatalf("export: %v", err)
	}
	fmt.Printf("Exported %s to %s\n", id, path)
}

func handleAttach(cfg config.Config, args []string) {
	if len(args) != 1 {
		fatalf("usage: claudepilot attach <session>")
	}
	id := args[0]

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fatalf("attach requires an interactive terminal")
	}

	mgr, client, _ := newManager(cfg)
	if _, err := mgr.Snapshot(id, 1); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fatalf("no such session: %s", id)
		}
		fatalf("attach: %v", err)
	}
	if err := client.Attach(id); err != nil {
		fatalf("attach: %v", err)
	}
}
