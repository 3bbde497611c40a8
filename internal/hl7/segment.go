// Package hl7 splits pipe-delimited HL7 v2 messages into segments and fields.
package hl7

import (
	"strings"
)

// Delimiters used by the splitter. Sub-components are only read on demand.
const (
	FieldSeparator        = "|"
	ComponentSeparator    = "^"
	RepetitionSeparator   = "~"
	SubComponentSeparator = "&"
)

// Segment is one line of a message split on the field separator.
// Index 0 echoes the tag, so Fields[n] is the n-th field of the segment
// (for MSH, Fields[1] holds the encoding characters, i.e. MSH-2).
type Segment struct {
	Tag    string
	Fields []string
	Line   int
}

// Field returns the field at index i, or "" when the segment is shorter.
func (s Segment) Field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return s.Fields[i]
}

// Len returns the number of fields including the tag.
func (s Segment) Len() int {
	return len(s.Fields)
}

// IsZ reports whether the segment is a locally defined Z-segment.
func (s Segment) IsZ() bool {
	return strings.HasPrefix(s.Tag, "Z")
}

// Normalize rewrites \r\n and \n line breaks to \r.
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\r")
	return strings.ReplaceAll(text, "\n", "\r")
}

// Lines returns the non-blank segment lines of a raw message.
func Lines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(Normalize(raw), "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Split breaks a raw message into segments. The first three characters of each
// line are taken as the tag; no MSH-first precondition is enforced.
func Split(raw string) []Segment {
	lines := Lines(raw)
	segments := make([]Segment, 0, len(lines))
	for i, line := range lines {
		segments = append(segments, Segment{
			Tag:    tagOf(line),
			Fields: strings.Split(line, FieldSeparator),
			Line:   i + 1,
		})
	}
	return segments
}

func tagOf(line string) string {
	if len(line) < 3 {
		return line
	}
	return line[:3]
}

// Repetitions splits a field on the repetition separator. An empty field
// yields no repetitions.
func Repetitions(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, RepetitionSeparator)
}

// Components splits a value on the component separator.
func Components(value string) []string {
	return strings.Split(value, ComponentSeparator)
}

// Component returns the 1-based component n of value, trimmed, or "".
func Component(value string, n int) string {
	if n < 1 {
		return ""
	}
	comps := Components(value)
	if n > len(comps) {
		return ""
	}
	return strings.TrimSpace(comps[n-1])
}

// SubComponent returns the 1-based sub-component n of a component value.
func SubComponent(value string, n int) string {
	if n < 1 {
		return ""
	}
	subs := strings.Split(value, SubComponentSeparator)
	if n > len(subs) {
		return ""
	}
	return strings.TrimSpace(subs[n-1])
}

// FirstLine returns the first line whose tag matches, or "" if absent.
func FirstLine(raw, tag string) string {
	prefix := tag + FieldSeparator
	for _, line := range Lines(raw) {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	return ""
}
