package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes channel events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Channel != "" {
		attrs = append(attrs, slog.String("channel", event.Channel))
	}
	if event.Path != "" {
		attrs = append(attrs, slog.String("path", event.Path))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Data != nil:
		attrs = append(attrs,
			slog.String("type", event.Data.Type.String()),
			slog.Int("count", event.Data.Count),
			slog.Time("stamp", event.Data.Stamp),
			slog.Int("delivered", event.Data.Delivered),
		)
		if event.Data.Overwritten > 0 {
			attrs = append(attrs, slog.Int("overwritten", event.Data.Overwritten))
		}
		if event.Data.Replay {
			attrs = append(attrs, slog.Bool("replay", true))
		}
	case event.Subscription != nil:
		attrs = append(attrs,
			slog.String("action", event.Subscription.Action.String()),
			slog.Int("accessors", event.Subscription.Accessors),
		)
		if event.Subscription.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Subscription.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "channel", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
