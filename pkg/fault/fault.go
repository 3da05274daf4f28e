// Package fault classifies errors into the two categories callers act on:
// logic errors (API misuse, never retried) and runtime errors (conditions
// such as timeouts or lost connections that a caller may recover from).
//
// Packages declare their sentinels through Logic and Runtime so a single
// error matches both its own sentinel and its category:
//
//	var ErrDisconnected = fault.Runtime("channel disconnected")
//
//	errors.Is(err, ErrDisconnected)  // specific
//	errors.Is(err, fault.ErrRuntime) // category
package fault

import "errors"

// Error categories.
var (
	ErrLogic   = errors.New("logic error")
	ErrRuntime = errors.New("runtime error")
)

type categorized struct {
	msg      string
	category error
}

func (e *categorized) Error() string { return e.msg }

func (e *categorized) Unwrap() error { return e.category }

// Logic returns a new sentinel error in the logic category.
func Logic(msg string) error {
	return &categorized{msg: msg, category: ErrLogic}
}

// Runtime returns a new sentinel error in the runtime category.
func Runtime(msg string) error {
	return &categorized{msg: msg, category: ErrRuntime}
}

// IsLogic reports whether err is in the logic category.
func IsLogic(err error) bool {
	return errors.Is(err, ErrLogic)
}

// IsRuntime reports whether err is in the runtime category.
func IsRuntime(err error) bool {
	return errors.Is(err, ErrRuntime)
}
