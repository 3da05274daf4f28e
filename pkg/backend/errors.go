package backend

import "github.com/pvmux/pvmux-go/pkg/fault"

// Backend errors.
var (
	ErrNotOpen          = fault.Logic("backend not opened")
	ErrMissingParameter = fault.Logic("missing backend parameter")
	ErrRawMode          = fault.Logic("raw access mode not supported")
	ErrInvalidRange     = fault.Logic("requested elements exceed register length")
	ErrLengthMismatch   = fault.Logic("value length does not match accessor length")
	ErrNotReadable      = fault.Logic("register is not readable")
	ErrNotWriteable     = fault.Logic("register is not writeable")

	ErrNoChannels       = fault.Runtime("no channel could be created")
	ErrUnusableRegister = fault.Runtime("register type not supported")
	ErrReadTimeout      = fault.Runtime("read timeout")
	ErrReadFailed       = fault.Runtime("read failed")
)
