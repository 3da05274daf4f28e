package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/pvmux/pvmux-go/internal/config"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive register shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "pvmux> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			// Log output goes through readline so it does not corrupt the prompt.
			return withSession(rl.Stderr(), func(ctx context.Context, s *session) error {
				sh := &shell{s: s, rl: rl, out: rl.Stdout(), monitors: make(map[string]context.CancelFunc)}
				sh.run(ctx)
				return nil
			})
		},
	}
}

// shell handles interactive mode.
type shell struct {
	s   *session
	rl  *readline.Instance
	out io.Writer

	mu       sync.Mutex
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func (sh *shell) run(ctx context.Context) {
	defer sh.stopMonitors("")

	sh.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := sh.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			sh.printHelp()
		case "ls", "info":
			printCatalogue(sh.out, sh.s.backend)
		case "get", "r":
			sh.cmdGet(ctx, args)
		case "put", "w":
			sh.cmdPut(ctx, args)
		case "monitor", "m":
			sh.cmdMonitor(ctx, args)
		case "unmonitor", "um":
			sh.stopMonitors(strings.Join(args, ""))
		case "status":
			sh.cmdStatus()
		case "pause":
			sh.s.srv.Pause(true)
			fmt.Fprintln(sh.out, "IOC paused")
		case "resume":
			sh.s.srv.Pause(false)
			fmt.Fprintln(sh.out, "IOC resumed")
		case "disconnect":
			sh.cmdPV(args, sh.s.srv.Disconnect)
		case "reconnect":
			sh.cmdPV(args, sh.s.srv.Reconnect)
		case "step":
			sh.cmdPV(args, func(name string) error { return config.Step(sh.s.srv, name) })
		case "quit", "exit", "q":
			fmt.Fprintln(sh.out, "Exiting...")
			return
		default:
			fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, `
pvmux Commands:
  Registers:
    ls                          - List registers
    get <path>                  - Read a register
    put <path> [@offset] <val>  - Write one or more elements
    monitor <path>              - Print updates in the background
    unmonitor [path]            - Stop one or all monitors
    status                      - Show backend and recovery state

  Simulated IOC:
    pause | resume              - Take the whole IOC offline or back online
    disconnect <pv>             - Take one process variable offline
    reconnect <pv>              - Bring it back
    step <pv>                   - Add one to every element

  Other:
    help                        - Show this help
    quit                        - Exit`)
}

func (sh *shell) cmdGet(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(sh.out, "Usage: get <path>")
		return
	}
	xs, tok, err := readRegister(ctx, sh.s.backend, args[0])
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(sh.out, "%s = %s  (version %s)\n", args[0], strings.Join(xs, " "), tok)
}

func (sh *shell) cmdPut(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(sh.out, "Usage: put <path> [@offset] <value>...")
		return
	}
	path, vals := args[0], args[1:]
	offset := 0
	if strings.HasPrefix(vals[0], "@") {
		n, err := strconv.Atoi(vals[0][1:])
		if err != nil || len(vals) < 2 {
			fmt.Fprintln(sh.out, "Usage: put <path> [@offset] <value>...")
			return
		}
		offset, vals = n, vals[1:]
	}
	if err := writeRegister(ctx, sh.s.backend, path, offset, vals); err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(sh.out, "OK")
}

func (sh *shell) cmdMonitor(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(sh.out, "Usage: monitor <path>")
		return
	}
	path := args[0]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.monitors[path]; ok {
		fmt.Fprintf(sh.out, "Already monitoring %s\n", path)
		return
	}
	mctx, cancel := context.WithCancel(ctx)
	sh.monitors[path] = cancel
	sh.wg.Add(1)
	go func() {
		defer sh.wg.Done()
		if err := monitorRegister(mctx, sh.s.backend, path, sh.out); err != nil {
			fmt.Fprintf(sh.out, "monitor %s: %v\n", path, err)
		}
		sh.mu.Lock()
		delete(sh.monitors, path)
		sh.mu.Unlock()
	}()
}

// stopMonitors cancels the monitor of path, or all monitors when path is
// empty, and waits for them to exit.
func (sh *shell) stopMonitors(path string) {
	sh.mu.Lock()
	for p, cancel := range sh.monitors {
		if path == "" || p == path {
			cancel()
		}
	}
	sh.mu.Unlock()
	sh.wg.Wait()
}

func (sh *shell) cmdStatus() {
	b := sh.s.backend
	fmt.Fprintf(sh.out, "Backend:     open=%t functional=%t async=%t\n", b.IsOpen(), b.IsFunctional(), b.IsAsyncReadActive())
	fmt.Fprintf(sh.out, "Session:     %s\n", b.SessionID())
	if err := b.ActiveException(); err != nil {
		fmt.Fprintf(sh.out, "Exception:   %v\n", err)
	}
	m := sh.s.manager
	fmt.Fprintf(sh.out, "Recovery:    %s (attempts %d)\n", m.State(), m.BackoffAttempts())
	if err := m.LastError(); err != nil {
		fmt.Fprintf(sh.out, "Last error:  %v\n", err)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	for p := range sh.monitors {
		fmt.Fprintf(sh.out, "Monitoring:  %s\n", p)
	}
}

func (sh *shell) cmdPV(args []string, fn func(name string) error) {
	if len(args) != 1 {
		fmt.Fprintln(sh.out, "Usage: <command> <pv>")
		return
	}
	if err := fn(args[0]); err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(sh.out, "OK")
}
