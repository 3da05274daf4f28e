// Package version provides ordered version tokens for channel data and the
// mapping from source time stamps to tokens.
package version

import (
	"fmt"
	"sync/atomic"
	"time"
)

var sequence atomic.Uint64

// Token identifies one value of a register. Tokens order by their source
// instant and, for equal instants, by allocation order. The zero Token
// precedes every allocated token.
type Token struct {
	nanos int64
	seq   uint64
}

// NewToken allocates a token for the current time.
func NewToken() Token {
	return TokenAt(time.Now())
}

// TokenAt allocates a new token for t. Two calls with the same t return
// distinct tokens.
func TokenAt(t time.Time) Token {
	return Token{nanos: t.UnixNano(), seq: sequence.Add(1)}
}

// Compare returns -1, 0 or +1 depending on whether t precedes, equals or
// follows other.
func (t Token) Compare(other Token) int {
	switch {
	case t.nanos < other.nanos:
		return -1
	case t.nanos > other.nanos:
		return 1
	case t.seq < other.seq:
		return -1
	case t.seq > other.seq:
		return 1
	}
	return 0
}

func (t Token) Before(other Token) bool { return t.Compare(other) < 0 }
func (t Token) After(other Token) bool  { return t.Compare(other) > 0 }

// IsZero reports whether t was never allocated.
func (t Token) IsZero() bool {
	return t.seq == 0
}

// Time returns the source instant of t.
func (t Token) Time() time.Time {
	return time.Unix(0, t.nanos).UTC()
}

// String returns "<RFC3339Nano>#<seq>".
func (t Token) String() string {
	if t.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s#%d", t.Time().Format(time.RFC3339Nano), t.seq)
}

// Max returns the later of a and b.
func Max(a, b Token) Token {
	if a.Before(b) {
		return b
	}
	return a
}

// Clamp returns floor if t precedes it. Values produced before a session
// started are reported with the session start version.
func Clamp(t, floor Token) Token {
	return Max(t, floor)
}
