package registry

import (
	"sync"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/convert"
)

// Handle is a use-counted snapshot of a configured channel for blocking
// I/O outside the registry lock. The channel is not cleared before Release.
type Handle struct {
	ID       ca.ChannelID
	Name     string
	Count    int
	Type     ca.FieldType
	Codec    convert.Codec
	Readable bool
	Writable bool

	reg  *Registry
	ch   *Channel
	once sync.Once
}

// Release returns the handle. Calling it more than once is harmless.
func (h *Handle) Release() {
	h.once.Do(func() { h.reg.release(h.ch) })
}
