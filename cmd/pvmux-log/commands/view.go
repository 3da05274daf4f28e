// Package commands implements the pvmux-log CLI commands.
package commands

import (
	"fmt"
	"io"

	"github.com/pvmux/pvmux-go/pkg/log"
)

// RunView writes the events of path matching opts in human-readable form.
func RunView(path string, opts FilterOptions, output io.Writer) error {
	reader, err := open(path, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	return each(reader, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session:id] LAYER Type subject
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [session:%s] %s %s%s\n",
		ts, shortenID(event.SessionID), event.Layer, typeLabel(event), subject(event))

	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Data != nil:
		formatDataDetails(w, event.Data)
	case event.Subscription != nil:
		formatSubscriptionDetails(w, event.Subscription)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func typeLabel(event log.Event) string {
	switch {
	case event.StateChange != nil:
		return "State"
	case event.Data != nil:
		if event.Data.Replay {
			return "Replay"
		}
		return "Data"
	case event.Subscription != nil:
		return "Subscription"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

func subject(event log.Event) string {
	switch {
	case event.Channel != "" && event.Path != "":
		return fmt.Sprintf(" %s (%s)", event.Channel, event.Path)
	case event.Channel != "":
		return " " + event.Channel
	case event.Path != "":
		return " " + event.Path
	}
	return ""
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatDataDetails(w io.Writer, d *log.DataEvent) {
	fmt.Fprintf(w, "  Value: %s[%d] stamp %s\n", d.Type, d.Count, d.Stamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	if d.Status != 0 || d.Severity != 0 {
		fmt.Fprintf(w, "  Alarm: status %d severity %d\n", d.Status, d.Severity)
	}
	fmt.Fprintf(w, "  Delivered: %d", d.Delivered)
	if d.Overwritten > 0 {
		fmt.Fprintf(w, "  Overwritten: %d", d.Overwritten)
	}
	fmt.Fprintln(w)
}

func formatSubscriptionDetails(w io.Writer, s *log.SubscriptionEvent) {
	fmt.Fprintf(w, "  %s for %d accessors\n", s.Action, s.Accessors)
	if s.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", s.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}
