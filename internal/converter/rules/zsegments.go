package rules

import "github.com/fhirhub/go-fhirhub/internal/fhir/r4"

// ZField maps one Z-segment field index to a short extension name.
type ZField struct {
	Index int
	Name  string
}

// ZRule describes a locally defined segment. Target is the resource type the
// extensions attach to; an empty Target leaves them unattached.
type ZRule struct {
	Tag    string
	Target string
	Fields []ZField
}

// ExtensionURL builds the extension url for one field of the rule.
func (r ZRule) ExtensionURL(base string, f ZField) string {
	return base + r.Tag + "-" + f.Name
}

// French IHE PAM national extension segments.
var zRules = map[string]ZRule{
	"ZBE": {
		Tag:    "ZBE",
		Target: r4.TypeEncounter,
		Fields: []ZField{
			{1, "movementId"},
			{2, "movementDate"},
			{4, "action"},
			{5, "historic"},
			{6, "originalTrigger"},
			{7, "medicalWard"},
			{8, "careWard"},
			{9, "nature"},
		},
	},
	"ZFV": {
		Tag:    "ZFV",
		Target: r4.TypeEncounter,
		Fields: []ZField{
			{1, "originEstablishment"},
			{2, "lastVisitDate"},
			{3, "transportMode"},
			{4, "transportType"},
			{5, "placementDate"},
			{6, "establishmentAddress"},
			{9, "admissionNumber"},
			{10, "dischargeMode"},
		},
	},
	"ZFM": {
		Tag:    "ZFM",
		Target: r4.TypeEncounter,
		Fields: []ZField{
			{1, "entryMode"},
			{2, "exitMode"},
			{3, "entryOrigin"},
			{4, "exitDestination"},
		},
	},
	"ZFP": {
		Tag:    "ZFP",
		Target: r4.TypePatient,
		Fields: []ZField{
			{1, "professionalActivity"},
			{2, "socioProfessionalCategory"},
		},
	},
	"ZFD": {
		Tag:    "ZFD",
		Target: r4.TypePatient,
		Fields: []ZField{
			{1, "lunarDate"},
			{2, "birthCount"},
			{3, "smsConsent"},
			{4, "identityValidationDate"},
			{5, "identityValidationMode"},
		},
	},
	// ZFA (DMP status) is computed but has no attachment target yet.
	"ZFA": {
		Tag: "ZFA",
		Fields: []ZField{
			{1, "dmpStatus"},
			{2, "dmpStatusDate"},
			{3, "dmpClosingDate"},
			{4, "dmpAccessAuthorization"},
		},
	},
}

// ZRuleFor returns the configured rule for a Z tag. Unconfigured tags report false.
func ZRuleFor(tag string) (ZRule, bool) {
	r, ok := zRules[key(tag)]
	return r, ok
}
