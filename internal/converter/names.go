package converter

import (
	"strings"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// XPN component positions read by the name pass.
const (
	xpnFamily    = 1
	xpnGiven     = 2
	xpnFullGiven = 3
	xpnSuffix    = 4
	xpnPrefix    = 5
	xpnNameType  = 7
)

// ExtractNames reads PID-5 from the first PID line of the raw message.
// Each repetition is one name. When the third component is filled it holds
// every forename separated by spaces, e.g. DUPONT^^MARIE JEANNE LOUISE^^^^L.
func ExtractNames(raw string) []r4.HumanName {
	line := hl7.FirstLine(raw, "PID")
	if line == "" {
		return nil
	}
	fields := strings.Split(line, hl7.FieldSeparator)
	if len(fields) <= pidName {
		return nil
	}

	var names []r4.HumanName
	for _, group := range hl7.Repetitions(fields[pidName]) {
		if name, ok := extractName(group); ok {
			names = append(names, name)
		}
	}
	return names
}

func extractName(group string) (r4.HumanName, bool) {
	name := r4.HumanName{
		Family: hl7.Component(group, xpnFamily),
		Use:    rules.NameUse(hl7.Component(group, xpnNameType)),
	}

	if full := hl7.Component(group, xpnFullGiven); full != "" {
		name.Given = strings.Fields(full)
	} else if given := hl7.Component(group, xpnGiven); given != "" {
		name.Given = []string{given}
	}

	if suffix := hl7.Component(group, xpnSuffix); suffix != "" {
		name.Suffix = []string{suffix}
	}
	if prefix := hl7.Component(group, xpnPrefix); prefix != "" {
		name.Prefix = []string{prefix}
	}

	if name.Family == "" && len(name.Given) == 0 {
		return r4.HumanName{}, false
	}
	return name, true
}

func nameKey(n r4.HumanName) string {
	return n.Family + "|" + n.Use + "|" + strings.Join(n.Given, " ")
}

// MergeNames drops existing names without a given name, then prepends the
// extracted names that are not already present.
func MergeNames(existing, extracted []r4.HumanName) []r4.HumanName {
	var kept []r4.HumanName
	seen := make(map[string]bool)
	for _, n := range existing {
		if len(n.Given) == 0 || strings.TrimSpace(strings.Join(n.Given, "")) == "" {
			continue
		}
		kept = append(kept, n)
		seen[nameKey(n)] = true
	}

	var merged []r4.HumanName
	for _, n := range extracted {
		k := nameKey(n)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, n)
	}
	return append(merged, kept...)
}

// applyNames rewrites the name of the first Patient in the bundle.
func applyNames(b *r4.Bundle, raw string) bool {
	extracted := ExtractNames(raw)
	for _, e := range b.Entry {
		patient, ok := e.Resource.(*r4.Patient)
		if !ok {
			continue
		}
		patient.Name = MergeNames(patient.Name, extracted)
		return true
	}
	return false
}
