// Package log provides the structured channel event log.
//
// The event log is separate from operational logging (slog). It records a
// machine-readable trace of channel state changes, value fan-out,
// subscription changes and failures, tagged with the session of the backend
// open episode, for later analysis with pvmux-log.
//
// # Basic Usage
//
//	// Development: events to the console
//	cfg.Events = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary file
//	cfg.Events, _ = log.NewFileLogger("/var/log/pvmux/device.plog")
//
//	// Both
//	cfg.Events = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys and use
// the .plog extension.
package log
