package rules

import (
	"strings"

	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
)

// Assigning authority namespaces (CX-4.1 / XCN-9.1) with a known system.
var identifierSystems = map[string]string{
	"INS":                r4.SystemINSNIR,
	"INS-NIR":            r4.SystemINSNIR,
	"ASIP-SANTE-INS-NIR": r4.SystemINSNIR,
	"INS-NIA":            r4.SystemINSNIA,
	"ASIP-SANTE-INS-NIA": r4.SystemINSNIA,
	"INS-C":              r4.SystemINSC,
	"ASIP-SANTE-INS-C":   r4.SystemINSC,
	"RPPS":               r4.SystemRPPS,
	"ADELI":              r4.SystemRPPS,
	"ASIP-SANTE-PS":      r4.SystemRPPS,
	"FINESS":             r4.SystemFINESS,
}

// oidSystems maps well-known OIDs back to their canonical system so that
// "&1.2.250.1.213.1.4.8&ISO" and "INS-NIR" resolve identically.
var oidSystems = map[string]string{
	"1.2.250.1.213.1.4.8": r4.SystemINSNIR,
	"1.2.250.1.213.1.4.9": r4.SystemINSNIA,
	"1.2.250.1.213.1.4.2": r4.SystemINSC,
	"1.2.250.1.71.4.2.1":  r4.SystemRPPS,
	"1.2.250.1.71.4.2.2":  r4.SystemFINESS,
}

// FallbackNamespace names the synthesized system when no namespace is given.
const FallbackNamespace = "mrn"

// IdentifierSystem resolves an assigning authority to an identifier system.
// Known namespaces win, then a declared OID, then base + lowercased namespace.
func IdentifierSystem(namespace, oid, base string) string {
	if s, ok := identifierSystems[key(namespace)]; ok {
		return s
	}
	oid = strings.TrimSpace(oid)
	if oid != "" {
		if s, ok := oidSystems[oid]; ok {
			return s
		}
		return "urn:oid:" + oid
	}
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if ns == "" {
		ns = FallbackNamespace
	}
	return base + ns
}

// IsINS reports whether the system is one of the national health identifiers.
func IsINS(system string) bool {
	switch system {
	case r4.SystemINSNIR, r4.SystemINSNIA, r4.SystemINSC:
		return true
	}
	return false
}

// Insurer describes a payer resolved from IN1-3.
type Insurer struct {
	Code  string
	Name  string
	Known bool
}

// InsurerFallbackName prefixes the synthesized name of an unmapped payer.
const InsurerFallbackName = "Organisme d'assurance"

// French compulsory health insurance schemes (grand régime), keyed by the
// two-digit scheme code that prefixes the payer identifier.
var insurers = map[string]string{
	"01": "Régime général (CPAM)",
	"02": "Mutualité sociale agricole (MSA)",
	"03": "Sécurité sociale des indépendants (SSI)",
	"04": "Caisse de prévoyance et de retraite SNCF",
	"05": "Caisse de coordination aux assurances sociales de la RATP",
	"06": "Établissement national des invalides de la marine (ENIM)",
	"07": "Caisse autonome nationale de la sécurité sociale dans les mines (CANSSM)",
	"08": "Caisse nationale militaire de sécurité sociale (CNMSS)",
	"10": "Caisse de retraite et de prévoyance des clercs et employés de notaires (CRPCEN)",
	"90": "Caisse d'assurance vieillesse, invalidité et maladie des cultes (CAVIMAC)",
}

// LookupInsurer resolves a payer code. The scheme is read from the first two
// characters, so "011234567" resolves to the general scheme. An unmapped code
// keeps declaredName when set, otherwise a synthesized display name.
func LookupInsurer(code, declaredName string) Insurer {
	code = strings.TrimSpace(code)
	declaredName = strings.TrimSpace(declaredName)
	if len(code) >= 2 {
		if name, ok := insurers[code[:2]]; ok {
			return Insurer{Code: code, Name: name, Known: true}
		}
	}
	if declaredName != "" {
		return Insurer{Code: code, Name: declaredName}
	}
	if code == "" {
		return Insurer{Name: InsurerFallbackName}
	}
	return Insurer{Code: code, Name: InsurerFallbackName + " " + code}
}
