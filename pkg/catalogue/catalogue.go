// Package catalogue loads the register map that binds logical register
// paths to Channel Access process variable names.
//
// A map file holds one register per line:
//
//	<register path> <whitespace> <channel name>
//
// Blank lines and lines starting with '#' are ignored. Lines with a
// different number of fields are logged and skipped. Several registers may
// share one channel.
package catalogue

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pvmux/pvmux-go/pkg/fault"
)

var (
	ErrEmptyCatalogue  = fault.Runtime("no registers found in catalogue")
	ErrMapFile         = fault.Runtime("failed reading map file")
	ErrUnknownRegister = fault.Logic("unknown register")
)

// Catalogue is the ordered set of registers of one device.
type Catalogue struct {
	mu        sync.RWMutex
	registers []*RegisterInfo
	byPath    map[string]int
}

// New returns an empty catalogue.
func New() *Catalogue {
	return &Catalogue{byPath: make(map[string]int)}
}

// LoadFile reads a map file.
func LoadFile(path string, logger *slog.Logger) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrMapFile, path, err)
	}
	defer f.Close()
	return Parse(f, path, logger)
}

// Parse reads map file content from r. name is used in log messages.
func Parse(r io.Reader, name string, logger *slog.Logger) (*Catalogue, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			logger.Warn("wrong number of tokens in map file, line ignored",
				"file", name, "line", lineNo, "tokens", len(fields), "text", line)
			continue
		}
		if !c.Add(fields[0], fields[1]) {
			logger.Warn("duplicate register in map file, line ignored",
				"file", name, "line", lineNo, "path", NormalizePath(fields[0]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrMapFile, name, err)
	}
	if c.Len() == 0 {
		return nil, ErrEmptyCatalogue
	}
	return c, nil
}

// Add appends a register. It reports false if the path already exists.
func (c *Catalogue) Add(path, channel string) bool {
	path = NormalizePath(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byPath[path]; ok {
		return false
	}
	c.byPath[path] = len(c.registers)
	c.registers = append(c.registers, &RegisterInfo{Path: path, Channel: channel})
	return true
}

// Remove drops every register bound to channel.
func (c *Catalogue) Remove(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.registers[:0]
	removed := 0
	for _, r := range c.registers {
		if r.Channel == channel {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	clear(c.registers[len(kept):])
	c.registers = kept
	clear(c.byPath)
	for i, r := range c.registers {
		c.byPath[r.Path] = i
	}
	return removed
}

// Get returns a copy of the register at path.
func (c *Catalogue) Get(path string) (RegisterInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byPath[NormalizePath(path)]
	if !ok {
		return RegisterInfo{}, fmt.Errorf("%w: %s", ErrUnknownRegister, path)
	}
	return *c.registers[i], nil
}

// Len returns the number of registers.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.registers)
}

// All iterates over copies of all registers in file order.
func (c *Catalogue) All() iter.Seq[RegisterInfo] {
	return func(yield func(RegisterInfo) bool) {
		c.mu.RLock()
		snapshot := make([]RegisterInfo, len(c.registers))
		for i, r := range c.registers {
			snapshot[i] = *r
		}
		c.mu.RUnlock()

		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// Channels returns the distinct channel names in first-use order.
func (c *Catalogue) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(c.registers))
	var out []string
	for _, r := range c.registers {
		if !seen[r.Channel] {
			seen[r.Channel] = true
			out = append(out, r.Channel)
		}
	}
	return out
}

// Update applies configured channel metadata to every register bound to
// channel. Registers whose type has no conversion are marked unusable. It
// returns the number of registers updated.
func (c *Catalogue) Update(channel string, info ChannelInfo, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range c.registers {
		if r.Channel != channel {
			continue
		}
		n++
		r.Configured = true
		r.Elements = info.Elements
		r.Type = info.Type
		r.Readable = info.Readable
		r.Writable = info.Writable

		d, ok := DescriptorFor(info.Type)
		r.Descriptor = d
		r.Usable = ok
		if !ok {
			logger.Error("failed to determine data type for register",
				"path", r.Path, "channel", channel, "type", info.Type.String())
		}
		r.Modes = Modes(AccessWaitForNewData)
	}
	return n
}
