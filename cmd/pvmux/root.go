package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvmux/pvmux-go/internal/config"
)

var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pvmux",
		Short: "Channel Access register client",
		Long: `pvmux maps logical register paths to Channel Access process variables
and reads, writes and monitors them through one shared set of channels.

Examples:
  pvmux info                               # List registers and their types
  pvmux get /plant/temp /plant/mode        # Read registers once
  pvmux put /plant/setpoint 42.5           # Write a register
  pvmux put --offset 4 /plant/wave 1 2 3   # Write part of an array
  pvmux monitor --duration 10s /plant/temp # Print updates
  pvmux shell                              # Interactive mode`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "pvmux.yaml", "configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newInfoCmd(),
		newGetCmd(),
		newPutCmd(),
		newMonitorCmd(),
		newShellCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// withSession loads the configuration, opens a session logging to logOut and
// runs fn with a context canceled on SIGINT or SIGTERM.
func withSession(logOut io.Writer, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List the registers of the map file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.ErrOrStderr(), func(ctx context.Context, s *session) error {
				printCatalogue(cmd.OutOrStdout(), s.backend)
				return nil
			})
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>...",
		Short: "Read registers once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.ErrOrStderr(), func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					xs, _, err := readRegister(ctx, s.backend, path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					fmt.Fprintf(out, "%s %s\n", path, strings.Join(xs, " "))
				}
				return nil
			})
		},
	}
}

func newPutCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "put <path> <value>...",
		Short: "Write a register",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.ErrOrStderr(), func(ctx context.Context, s *session) error {
				if err := writeRegister(ctx, s.backend, args[0], offset, args[1:]); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				xs, _, err := readRegister(ctx, s.backend, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], strings.Join(xs, " "))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "first element to write")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "monitor <path>...",
		Short: "Print register updates until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.ErrOrStderr(), func(ctx context.Context, s *session) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				return monitorAll(ctx, s, args, &syncWriter{w: cmd.OutOrStdout()})
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

// monitorAll runs one monitor per path and returns the first error.
func monitorAll(ctx context.Context, s *session, paths []string, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(paths))
	for _, path := range paths {
		go func() {
			err := monitorRegister(ctx, s.backend, path, out)
			if err != nil {
				err = fmt.Errorf("%s: %w", path, err)
				cancel()
			}
			errs <- err
		}()
	}
	var first error
	for range paths {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// syncWriter serializes writes from concurrent monitors.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
