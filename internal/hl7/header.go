package hl7

import (
	"strings"
	"time"
)

// Header carries the MSH fields recorded alongside a conversion.
type Header struct {
	SendingApp  string    // MSH-3
	SendingFac  string    // MSH-4
	Timestamp   time.Time // MSH-7
	MessageType string    // MSH-9, e.g. "ADT^A01"
	ControlID   string    // MSH-10
	Version     string    // MSH-12
}

// mshField maps MSH-n onto the split array. MSH-1 is the separator itself,
// so it never appears as an element and every index shifts by one.
func mshField(seg Segment, n int) string {
	return seg.Field(n - 1)
}

// ParseHeader reads the first MSH segment. The second return value is false
// when the message has no MSH, which is tolerated.
func ParseHeader(segments []Segment) (Header, bool) {
	for _, seg := range segments {
		if seg.Tag != "MSH" {
			continue
		}
		h := Header{
			SendingApp:  Component(mshField(seg, 3), 1),
			SendingFac:  Component(mshField(seg, 4), 1),
			MessageType: strings.TrimSpace(mshField(seg, 9)),
			ControlID:   strings.TrimSpace(mshField(seg, 10)),
			Version:     Component(mshField(seg, 12), 1),
		}
		h.Timestamp, _ = ParseTimestamp(mshField(seg, 7))
		return h, true
	}
	return Header{}, false
}

// ParseTimestamp parses the YYYYMMDD[HHMM[SS]] prefix of an HL7 TS value.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if i := strings.IndexAny(value, ".+-"); i >= 0 {
		value = value[:i]
	}
	var layout string
	switch {
	case len(value) >= 14:
		value, layout = value[:14], "20060102150405"
	case len(value) >= 12:
		value, layout = value[:12], "200601021504"
	case len(value) >= 8:
		value, layout = value[:8], "20060102"
	default:
		return time.Time{}, false
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
