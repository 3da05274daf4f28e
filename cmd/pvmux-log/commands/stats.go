package commands

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"time"

	"github.com/pvmux/pvmux-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Sessions         map[string]*SessionStats
	Channels         map[string]*ChannelStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for one backend open episode.
type SessionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Exceptions int
}

// ChannelStats holds value statistics for one channel.
type ChannelStats struct {
	Updates     int
	Replays     int
	Delivered   int
	Overwritten int
	Disconnects int
	Errors      int
}

// Collect reads the events of path matching opts into a Stats.
func Collect(path string, opts FilterOptions) (*Stats, error) {
	reader, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Sessions:         make(map[string]*SessionStats),
		Channels:         make(map[string]*ChannelStats),
	}
	err = each(reader, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityBackend && sc.NewState == "EXCEPTION" {
		sess.Exceptions++
	}

	if event.Error != nil {
		s.Errors++
	}

	if event.Channel == "" {
		return
	}
	ch, ok := s.Channels[event.Channel]
	if !ok {
		ch = &ChannelStats{}
		s.Channels[event.Channel] = ch
	}
	switch {
	case event.Data != nil && event.Data.Replay:
		ch.Replays++
		ch.Delivered += event.Data.Delivered
	case event.Data != nil:
		ch.Updates++
		ch.Delivered += event.Data.Delivered
		ch.Overwritten += event.Data.Overwritten
	case event.StateChange != nil && event.StateChange.Entity == log.StateEntityChannel && event.StateChange.OldState == "CONNECTED":
		ch.Disconnects++
	case event.Error != nil:
		ch.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, opts FilterOptions, w io.Writer) error {
	stats, err := Collect(path, opts)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== pvmux Channel Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerCallback, log.LayerRegistry, log.LayerAccessor, log.LayerBackend} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryState, log.CategoryData, log.CategorySubscription, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	type sessInfo struct {
		id    string
		stats *SessionStats
	}
	sessions := make([]sessInfo, 0, len(stats.Sessions))
	for id, ss := range stats.Sessions {
		sessions = append(sessions, sessInfo{id, ss})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
	})
	for _, s := range sessions {
		duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events, duration %s", shortenID(s.id), s.stats.Events, duration)
		if s.stats.Exceptions > 0 {
			fmt.Fprintf(w, ", %d exceptions", s.stats.Exceptions)
		}
		fmt.Fprintln(w)
	}

	if len(stats.Channels) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Channels: %d\n", len(stats.Channels))
		names := make([]string, 0, len(stats.Channels))
		for name := range stats.Channels {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			cs := stats.Channels[name]
			fmt.Fprintf(w, "  %s: %d updates, %d delivered", name, cs.Updates, cs.Delivered)
			if cs.Overwritten > 0 {
				fmt.Fprintf(w, ", %d overwritten", cs.Overwritten)
			}
			if cs.Replays > 0 {
				fmt.Fprintf(w, ", %d replays", cs.Replays)
			}
			if cs.Disconnects > 0 {
				fmt.Fprintf(w, ", %d disconnects", cs.Disconnects)
			}
			if cs.Errors > 0 {
				fmt.Fprintf(w, ", %d errors", cs.Errors)
			}
			fmt.Fprintln(w)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
