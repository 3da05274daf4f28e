package ca

import "fmt"

// Status is a Channel Access return code. The zero value is StatusNormal;
// every other value is an error.
type Status uint16

const (
	StatusNormal Status = iota
	StatusTimeout
	StatusBadChannel
	StatusDisconnected
	StatusGetFail
	StatusPutFail
	StatusBadType
	StatusBadCount
	StatusBadString
	StatusNoReadAccess
	StatusNoWriteAccess
	StatusAllocation
	StatusChannelClosed
)

var statusMessages = map[Status]string{
	StatusNormal:        "normal successful completion",
	StatusTimeout:       "user specified timeout on IO operation expired",
	StatusBadChannel:    "invalid channel identifier",
	StatusDisconnected:  "virtual circuit disconnect",
	StatusGetFail:       "channel read request failed",
	StatusPutFail:       "channel write request failed",
	StatusBadType:       "the data type specified is invalid",
	StatusBadCount:      "invalid element count requested",
	StatusBadString:     "invalid string",
	StatusNoReadAccess:  "read access denied",
	StatusNoWriteAccess: "write access denied",
	StatusAllocation:    "unable to allocate memory",
	StatusChannelClosed: "channel has been cleared",
}

// Error returns the status message.
func (s Status) Error() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status code %d", uint16(s))
}

// Code returns the numeric status code.
func (s Status) Code() int {
	return int(s)
}

// OK reports whether s is StatusNormal.
func (s Status) OK() bool {
	return s == StatusNormal
}
