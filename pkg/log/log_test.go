package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pvmux/pvmux-go/pkg/ca"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func TestEventCBORIntegerKeys(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp: ts,
		SessionID: "sess-1",
		Layer:     LayerCallback,
		Category:  CategoryData,
		Channel:   "SIM:TEMP",
		Data: &DataEvent{
			Type:        ca.FieldDouble,
			Count:       1,
			Stamp:       ts,
			Delivered:   2,
			Overwritten: 1,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if bytes.Contains(data, []byte("SessionID")) {
		t.Error("encoded event contains field names; want integer keys")
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.Data == nil || decoded.Data.Type != ca.FieldDouble || decoded.Data.Overwritten != 1 {
		t.Errorf("Data = %+v", decoded.Data)
	}
	if decoded.StateChange != nil || decoded.Error != nil {
		t.Error("unset payloads should decode as nil")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{LayerRegistry.String(), "REGISTRY"},
		{Layer(99).String(), "UNKNOWN"},
		{CategorySubscription.String(), "SUBSCRIPTION"},
		{StateEntityRecovery.String(), "RECOVERY"},
		{SubscriptionRenewed.String(), "RENEWED"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.plog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	base := time.Now()
	logger.Log(Event{Timestamp: base, SessionID: "a", Channel: "PV:1", Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityChannel, OldState: "CONNECTING", NewState: "CONNECTED"}})
	logger.Log(Event{Timestamp: base.Add(time.Second), SessionID: "a", Channel: "PV:2", Category: CategoryData,
		Data: &DataEvent{Type: ca.FieldLong, Count: 1}})
	logger.Log(Event{Timestamp: base.Add(2 * time.Second), SessionID: "b", Channel: "PV:1", Category: CategoryError,
		Error: &ErrorEventData{Layer: LayerAccessor, Message: "timeout"}})

	if logger.Written() != 3 {
		t.Errorf("Written() = %d, want 3", logger.Written())
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	logger.Log(Event{SessionID: "ignored"})

	t.Run("all", func(t *testing.T) {
		r, err := NewReader(path)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		n := 0
		for {
			_, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			n++
		}
		if n != 3 {
			t.Errorf("read %d events, want 3", n)
		}
	})

	t.Run("filtered", func(t *testing.T) {
		cat := CategoryState
		r, err := NewFilteredReader(path, Filter{Channel: "PV:1", Category: &cat})
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		e, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if e.StateChange == nil || e.StateChange.NewState != "CONNECTED" {
			t.Errorf("event = %+v", e)
		}
		if _, err := r.Next(); err != io.EOF {
			t.Errorf("Next() error = %v, want EOF", err)
		}
	})
}

func TestFilterTimeRange(t *testing.T) {
	base := time.Now()
	start := base.Add(time.Second)
	end := base.Add(2 * time.Second)
	f := Filter{SessionID: "s", TimeStart: &start, TimeEnd: &end}

	tests := []struct {
		event Event
		want  bool
	}{
		{Event{SessionID: "s", Timestamp: base}, false},
		{Event{SessionID: "s", Timestamp: start}, true},
		{Event{SessionID: "s", Timestamp: end}, false},
		{Event{SessionID: "x", Timestamp: start}, false},
	}
	for i, tt := range tests {
		if got := f.Matches(tt.event); got != tt.want {
			t.Errorf("case %d: Matches() = %v, want %v", i, got, tt.want)
		}
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)
	multi.Log(Event{SessionID: "s"})

	for i, r := range []*recordingLogger{a, b} {
		if len(r.events) != 1 {
			t.Errorf("logger %d received %d events, want 1", i, len(r.events))
		}
	}

	OrNoop(nil).Log(Event{})
	var noop NoopLogger
	noop.Log(Event{})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Timestamp: time.Now(),
		SessionID: "sess-9",
		Layer:     LayerRegistry,
		Category:  CategorySubscription,
		Channel:   "PV:X",
		Subscription: &SubscriptionEvent{
			Action:    SubscriptionActivated,
			Accessors: 2,
		},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["session_id"] != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", entry["session_id"])
	}
	if entry["channel"] != "PV:X" {
		t.Errorf("channel = %v, want PV:X", entry["channel"])
	}
	if entry["action"] != "ACTIVATED" {
		t.Errorf("action = %v, want ACTIVATED", entry["action"])
	}
	if entry["accessors"] != float64(2) {
		t.Errorf("accessors = %v, want 2", entry["accessors"])
	}
}
