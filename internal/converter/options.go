package converter

import "github.com/fhirhub/go-fhirhub/internal/fhir/r4"

// Options tunes the conversion. Zero values fall back to the defaults below.
type Options struct {
	// IdentifierField is the PID field holding the repeating identifier list.
	IdentifierField int `json:"identifierField,omitempty"`
	// IdentifierSystemBase prefixes synthesized identifier systems.
	IdentifierSystemBase string `json:"identifierSystemBase,omitempty"`
	// ExtensionBase prefixes Z-segment extension urls.
	ExtensionBase string `json:"extensionBase,omitempty"`
	// TimezoneOffset is appended to every parsed HL7 timestamp.
	TimezoneOffset string `json:"timezoneOffset,omitempty"`
}

// Defaults
const (
	DefaultIdentifierField = 3
	DefaultTimezoneOffset  = "+01:00"
)

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		IdentifierField:      DefaultIdentifierField,
		IdentifierSystemBase: r4.DefaultIdentifierSystem,
		ExtensionBase:        r4.DefaultExtensionBase,
		TimezoneOffset:       DefaultTimezoneOffset,
	}
}

// Merge returns o with every unset value taken from base.
func (o Options) Merge(base Options) Options {
	if o.IdentifierField <= 0 {
		o.IdentifierField = base.IdentifierField
	}
	if o.IdentifierSystemBase == "" {
		o.IdentifierSystemBase = base.IdentifierSystemBase
	}
	if o.ExtensionBase == "" {
		o.ExtensionBase = base.ExtensionBase
	}
	if o.TimezoneOffset == "" {
		o.TimezoneOffset = base.TimezoneOffset
	}
	return o
}
