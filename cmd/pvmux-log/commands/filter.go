package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pvmux/pvmux-go/pkg/log"
)

// FilterOptions specifies filtering criteria shared by all commands.
type FilterOptions struct {
	SessionID string
	Channel   string
	Path      string
	TimeStart string
	TimeEnd   string
	Layer     string
	Category  string
}

// Build converts the options into a log filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		SessionID: o.SessionID,
		Channel:   o.Channel,
		Path:      o.Path,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "callback":
		return log.LayerCallback, nil
	case "registry":
		return log.LayerRegistry, nil
	case "accessor":
		return log.LayerAccessor, nil
	case "backend":
		return log.LayerBackend, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be callback, registry, accessor, or backend)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "data":
		return log.CategoryData, nil
	case "subscription":
		return log.CategorySubscription, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, data, subscription, or error)", s)
	}
}

// RunFilter writes the events of path matching opts to a new log file and
// returns how many were written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	reader, err := open(path, opts)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	err = each(reader, func(event log.Event) error {
		logger.Log(event)
		return nil
	})
	if cerr := logger.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	return logger.Written(), err
}

// each calls fn for every event of reader until EOF.
func each(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// open opens path with the filter built from opts.
func open(path string, opts FilterOptions) (*log.Reader, error) {
	filter, err := opts.Build()
	if err != nil {
		return nil, err
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return reader, nil
}
