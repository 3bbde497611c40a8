// Package r4 provides the FHIR R4 data structures produced by the HL7 v2 converter.
package r4

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Source      string   `json:"source,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use      string           `json:"use,omitempty"` // usual | official | temp | secondary | old
	Type     *CodeableConcept `json:"type,omitempty"`
	System   string           `json:"system,omitempty"`
	Value    string           `json:"value,omitempty"`
	Period   *Period          `json:"period,omitempty"`
	Assigner *Reference       `json:"assigner,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period holds FHIR date or dateTime strings. The converter writes them
// already formatted, so no time.Time round trip alters the offset.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// HumanName represents a human name.
type HumanName struct {
	Use    string   `json:"use,omitempty"` // usual | official | temp | nickname | anonymous | old | maiden
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
	Period *Period  `json:"period,omitempty"`
}

// IsEmpty reports whether the name carries neither family nor given names.
func (n HumanName) IsEmpty() bool {
	return n.Family == "" && len(n.Given) == 0 && n.Text == ""
}

// Address represents a postal address.
type Address struct {
	Use        string   `json:"use,omitempty"`  // home | work | temp | old | billing
	Type       string   `json:"type,omitempty"` // postal | physical | both
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Period     *Period  `json:"period,omitempty"`
}

// IsEmpty reports whether no address part is populated. Use alone does not count.
func (a Address) IsEmpty() bool {
	return len(a.Line) == 0 && a.City == "" && a.State == "" &&
		a.PostalCode == "" && a.Country == "" && a.Text == ""
}

// ContactPoint represents a contact detail.
type ContactPoint struct {
	System string  `json:"system,omitempty"` // phone | fax | email | pager | url | sms | other
	Value  string  `json:"value,omitempty"`
	Use    string  `json:"use,omitempty"` // home | work | temp | old | mobile
	Rank   int     `json:"rank,omitempty"`
	Period *Period `json:"period,omitempty"`
}

// Extension represents a FHIR extension.
type Extension struct {
	URL                  string           `json:"url"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueCode            string           `json:"valueCode,omitempty"`
	ValueDateTime        string           `json:"valueDateTime,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
}

// Code systems and naming systems used by the converter.
const (
	SystemIdentifierType      = "http://terminology.hl7.org/CodeSystem/v2-0203"
	SystemV2Relationship      = "http://terminology.hl7.org/CodeSystem/v2-0131"
	SystemV3RoleCode          = "http://terminology.hl7.org/CodeSystem/v3-RoleCode"
	SystemV3ActCode           = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemV3ParticipationType = "http://terminology.hl7.org/CodeSystem/v3-ParticipationType"
	SystemV3MaritalStatus     = "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus"
	SystemSubscriberRelation  = "http://terminology.hl7.org/CodeSystem/subscriber-relationship"
	SystemCoverageClass       = "http://terminology.hl7.org/CodeSystem/coverage-class"
	SystemINSNIR              = "urn:oid:1.2.250.1.213.1.4.8"
	SystemINSNIA              = "urn:oid:1.2.250.1.213.1.4.9"
	SystemINSC                = "urn:oid:1.2.250.1.213.1.4.2"
	SystemRPPS                = "urn:oid:1.2.250.1.71.4.2.1"
	SystemFINESS              = "urn:oid:1.2.250.1.71.4.2.2"
	SystemGrandRegime         = "https://fhirhub.fr/fhir/NamingSystem/grand-regime"
	DefaultIdentifierSystem   = "https://fhirhub.fr/fhir/identifier/"
	DefaultExtensionBase      = "https://fhirhub.fr/fhir/StructureDefinition/"
)

// Encounter statuses
const (
	EncounterInProgress = "in-progress"
	EncounterFinished   = "finished"
)

// Coverage statuses
const (
	CoverageActive = "active"
)
