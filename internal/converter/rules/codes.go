// Package rules holds the static lookup tables consulted by the segment
// processors. Every lookup has exactly one fallback and never fails.
package rules

import (
	"strings"

	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
)

func key(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenderFallback is returned for codes outside M/F/O/U (PID-8).
const GenderFallback = "unknown"

var genders = map[string]string{
	"M": "male",
	"F": "female",
	"O": "other",
	"U": "unknown",
}

// Gender maps an HL7 administrative sex code to a FHIR gender.
func Gender(code string) string {
	if g, ok := genders[key(code)]; ok {
		return g
	}
	return GenderFallback
}

// TelecomSystemFallback applies to unmapped XTN-3 equipment types.
const TelecomSystemFallback = "phone"

var telecomSystems = map[string]string{
	"PH":       "phone",
	"FX":       "fax",
	"CP":       "phone",
	"BP":       "pager",
	"INTERNET": "email",
	"X.400":    "email",
	"MD":       "other",
	"TDD":      "other",
	"TTY":      "other",
}

// TelecomSystem maps an XTN equipment type to a ContactPoint system.
func TelecomSystem(code string) string {
	if s, ok := telecomSystems[key(code)]; ok {
		return s
	}
	return TelecomSystemFallback
}

// TelecomUseFallback applies to unmapped XTN-2 use codes.
const TelecomUseFallback = "home"

var telecomUses = map[string]string{
	"PRN": "home",
	"ORN": "home",
	"VHN": "home",
	"NET": "home",
	"WPN": "work",
	"BPN": "work",
	"PRS": "mobile",
	"EMR": "temp",
	"ASN": "temp",
}

// TelecomUse maps an XTN use code to a ContactPoint use.
func TelecomUse(code string) string {
	if u, ok := telecomUses[key(code)]; ok {
		return u
	}
	return TelecomUseFallback
}

// AddressUseFallback applies to unmapped XAD-7 address types.
const AddressUseFallback = "home"

var addressUses = map[string]string{
	"H":  "home",
	"L":  "home",
	"M":  "home",
	"P":  "home",
	"B":  "work",
	"O":  "work",
	"C":  "temp",
	"BA": "old",
	"BR": "home",
}

// AddressUse maps an XAD address type to an Address use.
func AddressUse(code string) string {
	if u, ok := addressUses[key(code)]; ok {
		return u
	}
	return AddressUseFallback
}

// NameUseFallback is the legal name use, also used when XPN-7 is empty.
const NameUseFallback = "official"

var nameUses = map[string]string{
	"L": "official",
	"M": "maiden",
	"D": "usual",
	"U": "usual",
	"N": "nickname",
	"A": "anonymous",
}

// NameUse maps an XPN name type code to a HumanName use.
func NameUse(code string) string {
	if u, ok := nameUses[key(code)]; ok {
		return u
	}
	return NameUseFallback
}

// RelationshipFallback is used for unmapped NK1-3 codes.
var RelationshipFallback = r4.Coding{System: r4.SystemV2Relationship, Code: "O", Display: "Other"}

var relationships = map[string]r4.Coding{
	"SPO": {System: r4.SystemV3RoleCode, Code: "SPS", Display: "spouse"},
	"MTH": {System: r4.SystemV3RoleCode, Code: "MTH", Display: "mother"},
	"FTH": {System: r4.SystemV3RoleCode, Code: "FTH", Display: "father"},
	"CHD": {System: r4.SystemV3RoleCode, Code: "CHILD", Display: "child"},
	"SIB": {System: r4.SystemV3RoleCode, Code: "SIB", Display: "sibling"},
	"PAR": {System: r4.SystemV3RoleCode, Code: "PRN", Display: "parent"},
	"GRD": {System: r4.SystemV3RoleCode, Code: "GUARD", Display: "guardian"},
	"FND": {System: r4.SystemV3RoleCode, Code: "FRND", Display: "unrelated friend"},
	"DOM": {System: r4.SystemV3RoleCode, Code: "DOMPART", Display: "domestic partner"},
	"EXF": {System: r4.SystemV3RoleCode, Code: "EXT", Display: "extended family member"},
	"EMC": {System: r4.SystemV2Relationship, Code: "C", Display: "Emergency Contact"},
}

// Relationship maps an NK1-3 relationship code to a coding.
func Relationship(code string) r4.Coding {
	if c, ok := relationships[key(code)]; ok {
		return c
	}
	return RelationshipFallback
}

// SubscriberRelationshipFallback is used for unmapped IN1-17 codes.
var SubscriberRelationshipFallback = r4.Coding{System: r4.SystemSubscriberRelation, Code: "other", Display: "Other"}

var subscriberRelationships = map[string]r4.Coding{
	"SEL": {System: r4.SystemSubscriberRelation, Code: "self", Display: "Self"},
	"01":  {System: r4.SystemSubscriberRelation, Code: "self", Display: "Self"},
	"SPO": {System: r4.SystemSubscriberRelation, Code: "spouse", Display: "Spouse"},
	"02":  {System: r4.SystemSubscriberRelation, Code: "spouse", Display: "Spouse"},
	"CHD": {System: r4.SystemSubscriberRelation, Code: "child", Display: "Child"},
	"03":  {System: r4.SystemSubscriberRelation, Code: "child", Display: "Child"},
	"PAR": {System: r4.SystemSubscriberRelation, Code: "parent", Display: "Parent"},
}

// SubscriberRelationship maps an IN1-17 code to a subscriber relationship.
func SubscriberRelationship(code string) r4.Coding {
	if c, ok := subscriberRelationships[key(code)]; ok {
		return c
	}
	return SubscriberRelationshipFallback
}

// PatientClassFallback is the ambulatory class used for unmapped PV1-2 codes.
var PatientClassFallback = r4.Coding{System: r4.SystemV3ActCode, Code: "AMB", Display: "ambulatory"}

var patientClasses = map[string]r4.Coding{
	"I": {System: r4.SystemV3ActCode, Code: "IMP", Display: "inpatient encounter"},
	"E": {System: r4.SystemV3ActCode, Code: "EMER", Display: "emergency"},
	"O": PatientClassFallback,
	"R": PatientClassFallback,
}

// PatientClass maps a PV1-2 patient class to an encounter class coding.
func PatientClass(code string) r4.Coding {
	if c, ok := patientClasses[key(code)]; ok {
		return c
	}
	return PatientClassFallback
}

// MaritalStatusFallback is the null flavour used for unmapped PID-16 codes.
var MaritalStatusFallback = r4.Coding{
	System:  "http://terminology.hl7.org/CodeSystem/v3-NullFlavor",
	Code:    "UNK",
	Display: "unknown",
}

var maritalStatuses = map[string]r4.Coding{
	"S": {System: r4.SystemV3MaritalStatus, Code: "S", Display: "Never Married"},
	"M": {System: r4.SystemV3MaritalStatus, Code: "M", Display: "Married"},
	"D": {System: r4.SystemV3MaritalStatus, Code: "D", Display: "Divorced"},
	"W": {System: r4.SystemV3MaritalStatus, Code: "W", Display: "Widowed"},
	"A": {System: r4.SystemV3MaritalStatus, Code: "L", Display: "Legally Separated"},
	"P": {System: r4.SystemV3MaritalStatus, Code: "T", Display: "Domestic partner"},
	"G": {System: r4.SystemV3MaritalStatus, Code: "T", Display: "Domestic partner"},
}

// MaritalStatus maps a PID-16 code to a marital status coding.
func MaritalStatus(code string) r4.Coding {
	if c, ok := maritalStatuses[key(code)]; ok {
		return c
	}
	return MaritalStatusFallback
}

// LocationPart is one PV1-3 component rendered into the location display.
type LocationPart struct {
	Component int
	Label     string
}

// LocationParts lists PV1-3 (PL) components in display order.
var LocationParts = []LocationPart{
	{Component: 1, Label: "Service"},
	{Component: 2, Label: "Chambre"},
	{Component: 3, Label: "Lit"},
	{Component: 4, Label: "Établissement"},
	{Component: 7, Label: "Bâtiment"},
	{Component: 8, Label: "Étage"},
}
