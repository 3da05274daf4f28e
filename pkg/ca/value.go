package ca

import (
	"fmt"
	"time"
)

// EPICSEpochOffset is the number of seconds between the Unix epoch and the
// EPICS epoch (1990-01-01 00:00:00 UTC).
const EPICSEpochOffset = 631152000

// TimeStamp is a source time stamp counted from the EPICS epoch.
type TimeStamp struct {
	Sec  uint32
	Nsec uint32
}

// TimeStampFrom converts t to an EPICS time stamp. Times before the EPICS
// epoch map to the zero stamp.
func TimeStampFrom(t time.Time) TimeStamp {
	sec := t.Unix() - EPICSEpochOffset
	if sec < 0 {
		return TimeStamp{}
	}
	return TimeStamp{Sec: uint32(sec), Nsec: uint32(t.Nanosecond())}
}

// UnixNano returns the stamp in nanoseconds since the Unix epoch.
func (ts TimeStamp) UnixNano() int64 {
	return (int64(ts.Sec)+EPICSEpochOffset)*int64(time.Second) + int64(ts.Nsec)
}

// Time returns the stamp as a time.Time in UTC.
func (ts TimeStamp) Time() time.Time {
	return time.Unix(0, ts.UnixNano()).UTC()
}

// IsZero reports whether the stamp is unset.
func (ts TimeStamp) IsZero() bool {
	return ts.Sec == 0 && ts.Nsec == 0
}

// String formats the stamp as RFC 3339 with nanoseconds.
func (ts TimeStamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// TimeValue is a DBR_TIME payload: alarm status, severity, stamp and Count
// elements of Type in network byte order.
type TimeValue struct {
	Status   int16
	Severity int16
	Stamp    TimeStamp
	Type     FieldType
	Count    int
	Value    []byte
}

// NewTimeValue allocates a zeroed payload for count elements of t.
func NewTimeValue(t FieldType, count int) *TimeValue {
	return &TimeValue{
		Type:  t,
		Count: count,
		Value: make([]byte, count*t.ElementSize()),
	}
}

// Clone returns a deep copy of v. Clone of nil is nil.
func (v *TimeValue) Clone() *TimeValue {
	if v == nil {
		return nil
	}
	c := *v
	c.Value = append([]byte(nil), v.Value...)
	return &c
}

// Validate checks that Value holds exactly Count elements of Type.
func (v *TimeValue) Validate() error {
	size := v.Type.ElementSize()
	if size == 0 {
		return fmt.Errorf("%w: %s", StatusBadType, v.Type)
	}
	if v.Count < 0 || len(v.Value) != v.Count*size {
		return fmt.Errorf("%w: %d elements of %s in %d bytes", StatusBadCount, v.Count, v.Type, len(v.Value))
	}
	return nil
}
