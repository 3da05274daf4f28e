package registry

import (
	"fmt"
	"strings"

	"github.com/pvmux/pvmux-go/pkg/fault"
)

// Registry errors.
var (
	ErrUnknownChannel      = fault.Logic("unknown channel")
	ErrRegistryClosed      = fault.Logic("registry closed")
	ErrDisconnected        = fault.Runtime("channel disconnected")
	ErrConnectTimeout      = fault.Runtime("connection timeout")
	ErrInitialValueTimeout = fault.Runtime("timeout waiting for initial values")
	ErrProtocol            = fault.Runtime("channel access error")
	ErrException           = fault.Runtime("exception reported by another accessor")
	ErrUnsupportedType     = fault.Runtime("channel type not supported")
)

// ConnectTimeoutError names the channels that did not connect in time.
type ConnectTimeoutError struct {
	Channels []string
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("%v: %d channel(s) not connected: %s",
		ErrConnectTimeout, len(e.Channels), strings.Join(e.Channels, ", "))
}

func (e *ConnectTimeoutError) Unwrap() error { return ErrConnectTimeout }

// ProtocolError is a failed transport request for one channel.
type ProtocolError struct {
	Channel string
	Op      string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", ErrProtocol, e.Op, e.Channel, e.Err)
}

func (e *ProtocolError) Unwrap() []error { return []error{ErrProtocol, e.Err} }
