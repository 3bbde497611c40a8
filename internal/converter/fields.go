package converter

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// guardField runs one attribute extractor. A panic inside fn becomes a
// FieldError that is logged and dropped; the attribute is simply omitted.
func guardField(logger *zap.Logger, segment, field string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &FieldError{Segment: segment, Field: field, Err: fmt.Errorf("%v", r)}
			logger.Debug("field extraction failed", zap.Error(err))
		}
	}()
	fn()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// formatHL7Date converts the leading YYYYMMDD of a value to YYYY-MM-DD.
// Short, non-numeric or impossible dates yield "".
func formatHL7Date(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 8 || !isDigits(value[:8]) {
		return ""
	}
	d, err := time.Parse("20060102", value[:8])
	if err != nil {
		return ""
	}
	return d.Format(time.DateOnly)
}

// formatHL7DateTime converts YYYYMMDD[HHMM[SS]] into an ISO dateTime carrying
// the configured offset. Any source timezone suffix is ignored.
func formatHL7DateTime(value, offset string) string {
	value = strings.TrimSpace(value)
	date := formatHL7Date(value)
	if date == "" {
		return ""
	}
	clock := "000000"
	rest := value[8:]
	if len(rest) >= 4 && isDigits(rest[:4]) {
		clock = rest[:4] + "00"
		if len(rest) >= 6 && isDigits(rest[4:6]) {
			clock = rest[:6]
		}
	}
	t, err := time.Parse("150405", clock)
	if err != nil {
		return ""
	}
	return date + "T" + t.Format(time.TimeOnly) + offset
}

// buildIdentifier maps one CX repetition: id^check^scheme^authority^type.
func buildIdentifier(cx string, opts Options) (r4.Identifier, bool) {
	value := hl7.Component(cx, 1)
	if value == "" {
		return r4.Identifier{}, false
	}
	authority := hl7.Component(cx, 4)
	namespace := hl7.SubComponent(authority, 1)
	oid := hl7.SubComponent(authority, 2)

	id := r4.Identifier{
		Value:  value,
		System: rules.IdentifierSystem(namespace, oid, opts.IdentifierSystemBase),
	}
	if typeCode := hl7.Component(cx, 5); typeCode != "" {
		id.Type = &r4.CodeableConcept{
			Coding: []r4.Coding{{System: r4.SystemIdentifierType, Code: typeCode}},
		}
	}
	if rules.IsINS(id.System) {
		id.Use = "official"
	}
	return id, true
}

// buildAddress maps one XAD repetition: street^other^city^state^zip^country^type.
func buildAddress(xad string) (r4.Address, bool) {
	addr := r4.Address{
		City:       hl7.Component(xad, 3),
		State:      hl7.Component(xad, 4),
		PostalCode: hl7.Component(xad, 5),
		Country:    hl7.Component(xad, 6),
		Use:        rules.AddressUse(hl7.Component(xad, 7)),
	}
	for _, n := range []int{1, 2} {
		if line := hl7.Component(xad, n); line != "" {
			addr.Line = append(addr.Line, line)
		}
	}
	if addr.IsEmpty() {
		return r4.Address{}, false
	}
	return addr, true
}

// buildTelecom maps one XTN repetition. The number is read from XTN-1, then
// the email (XTN-4), then the unformatted number (XTN-12). A value holding
// "@" is always an email.
func buildTelecom(xtn, defaultUse string) (r4.ContactPoint, bool) {
	value := hl7.Component(xtn, 1)
	if value == "" {
		value = hl7.Component(xtn, 4)
	}
	if value == "" {
		value = hl7.Component(xtn, 12)
	}
	if value == "" {
		return r4.ContactPoint{}, false
	}

	cp := r4.ContactPoint{
		Value:  value,
		System: rules.TelecomSystem(hl7.Component(xtn, 3)),
		Use:    defaultUse,
	}
	if useCode := hl7.Component(xtn, 2); useCode != "" {
		cp.Use = rules.TelecomUse(useCode)
	}
	if strings.Contains(value, "@") {
		cp.System = "email"
	}
	return cp, true
}

// buildSimpleName maps family^given^middle^suffix^prefix without the
// composite-forename handling of the name pass.
func buildSimpleName(xpn string) (r4.HumanName, bool) {
	name := r4.HumanName{Family: hl7.Component(xpn, 1)}
	if given := hl7.Component(xpn, 2); given != "" {
		name.Given = append(name.Given, given)
	}
	if suffix := hl7.Component(xpn, 4); suffix != "" {
		name.Suffix = []string{suffix}
	}
	if prefix := hl7.Component(xpn, 5); prefix != "" {
		name.Prefix = []string{prefix}
	}
	if name.IsEmpty() {
		return r4.HumanName{}, false
	}
	return name, true
}

func codeable(c r4.Coding) *r4.CodeableConcept {
	return &r4.CodeableConcept{Coding: []r4.Coding{c}}
}
