package converter

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

func segment(t *testing.T, line string) hl7.Segment {
	t.Helper()
	segs := hl7.Split(line)
	if len(segs) != 1 {
		t.Fatalf("expected one segment in %q", line)
	}
	return segs[0]
}

func contextWithPatient(t *testing.T) (*Context, *r4.Patient) {
	t.Helper()
	ctx := NewContext(DefaultOptions())
	if err := (&PatientProcessor{logger: zap.NewNop()}).Process(segment(t, "PID|1||42^^^HOP||DOE^JOHN"), ctx); err != nil {
		t.Fatalf("PID failed: %v", err)
	}
	p, ok := ctx.Patient()
	if !ok {
		t.Fatal("patient not registered")
	}
	return ctx, p
}

func TestPatientIdentifiers(t *testing.T) {
	ctx := NewContext(DefaultOptions())
	seg := segment(t, "PID|1||123^^^CHU-LYON&1.2.250.1.71.4.2.2&ISO^PI~1800175^^^INS-NIR^INS~77^^^LOCAL~^^^EMPTY")
	if err := (&PatientProcessor{logger: zap.NewNop()}).Process(seg, ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	p, _ := ctx.Patient()

	if len(p.Identifier) != 3 {
		t.Fatalf("expected 3 identifiers, got %+v", p.Identifier)
	}
	if p.Identifier[0].System != r4.SystemFINESS || p.Identifier[0].Type.Coding[0].Code != "PI" {
		t.Errorf("unexpected first identifier %+v", p.Identifier[0])
	}
	if p.Identifier[1].System != r4.SystemINSNIR || p.Identifier[1].Use != "official" {
		t.Errorf("unexpected INS identifier %+v", p.Identifier[1])
	}
	if p.Identifier[2].System != r4.DefaultIdentifierSystem+"local" {
		t.Errorf("unexpected fallback system %s", p.Identifier[2].System)
	}
}

func TestPatientTelecom(t *testing.T) {
	ctx := NewContext(DefaultOptions())
	seg := segment(t, "PID|1||42||DOE^JANE||||||||0478000000^PRN^PH~jane@example.fr^PRN^PH~^NET^Internet^jane.doe@example.fr~0600000000^^CP|0472000000")
	if err := (&PatientProcessor{logger: zap.NewNop()}).Process(seg, ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	p, _ := ctx.Patient()

	want := []r4.ContactPoint{
		{System: "phone", Value: "0478000000", Use: "home"},
		{System: "email", Value: "jane@example.fr", Use: "home"},
		{System: "email", Value: "jane.doe@example.fr", Use: "home"},
		{System: "phone", Value: "0600000000", Use: "home"},
		{System: "phone", Value: "0472000000", Use: "work"},
	}
	if len(p.Telecom) != len(want) {
		t.Fatalf("expected %d telecoms, got %+v", len(want), p.Telecom)
	}
	for i := range want {
		if p.Telecom[i] != want[i] {
			t.Errorf("telecom %d: expected %+v, got %+v", i, want[i], p.Telecom[i])
		}
	}
}

func TestPatientAddressAndStatus(t *testing.T) {
	ctx := NewContext(DefaultOptions())
	seg := segment(t, "PID|1||42||DOE^JANE||19800101|F|||1 place Bellecour^^Lyon^^69002^FRA^H~ZA Nord^Bât 3^Villeurbanne^^69100^FRA^B~^^^^^^H|||||S|||||||||||||20240101120000|Y")
	if err := (&PatientProcessor{logger: zap.NewNop()}).Process(seg, ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	p, _ := ctx.Patient()

	if len(p.Address) != 2 {
		t.Fatalf("expected 2 addresses, got %+v", p.Address)
	}
	if p.Address[0].City != "Lyon" || p.Address[0].PostalCode != "69002" || p.Address[0].Use != "home" {
		t.Errorf("unexpected home address %+v", p.Address[0])
	}
	if len(p.Address[1].Line) != 2 || p.Address[1].Use != "work" {
		t.Errorf("unexpected work address %+v", p.Address[1])
	}
	if p.MaritalStatus == nil || p.MaritalStatus.Coding[0].Code != "S" {
		t.Errorf("unexpected marital status %+v", p.MaritalStatus)
	}
	if p.DeceasedDateTime != "2024-01-01T12:00:00+01:00" {
		t.Errorf("unexpected deceased date %s", p.DeceasedDateTime)
	}
	if p.DeceasedBoolean != nil {
		t.Error("deceasedBoolean must not be set alongside deceasedDateTime")
	}
}

func TestContactProcessor(t *testing.T) {
	ctx, p := contextWithPatient(t)
	proc := &ContactProcessor{logger: zap.NewNop()}

	if err := proc.Process(segment(t, "NK1|1|DOE^MARY|MTH|3 rue Victor Hugo^^Lyon^^69002|0611111111^PRN^CP"), ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := proc.Process(segment(t, "NK1|2||SPO"), ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := proc.Process(segment(t, "NK1|3|ROE^RICHARD|ZZZ"), ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(p.Contact) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(p.Contact))
	}
	mother := p.Contact[0]
	if mother.Name == nil || mother.Name.Family != "DOE" {
		t.Errorf("unexpected contact name %+v", mother.Name)
	}
	if mother.Relationship[0].Coding[0].Code != "MTH" {
		t.Errorf("unexpected relationship %+v", mother.Relationship)
	}
	if mother.Address == nil || mother.Address.City != "Lyon" {
		t.Errorf("unexpected contact address %+v", mother.Address)
	}
	if len(mother.Telecom) != 1 || mother.Telecom[0].Value != "0611111111" {
		t.Errorf("unexpected contact telecom %+v", mother.Telecom)
	}
	if p.Contact[1].Relationship[0].Coding[0] != rules.RelationshipFallback {
		t.Errorf("expected fallback relationship, got %+v", p.Contact[1].Relationship)
	}
}

func TestContactRequiresPatient(t *testing.T) {
	ctx := NewContext(DefaultOptions())
	err := (&ContactProcessor{logger: zap.NewNop()}).Process(segment(t, "NK1|1|DOE^MARY|MTH"), ctx)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected missing dependency, got %v", err)
	}
}

func TestEncounterProcessor(t *testing.T) {
	ctx, p := contextWithPatient(t)
	seg := segment(t, "PV1|1|E|URG^12^2^CHU-LYON^^^B^3||||RPPS123^HOUSE^Gregory^^^Dr|||URG|||||||||V42|||||||||||||||||||||||||20240315083015|20240316")
	if err := (&EncounterProcessor{logger: zap.NewNop()}).Process(seg, ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	enc, ok := ctx.Encounter()
	if !ok {
		t.Fatal("encounter not registered")
	}
	if enc.Class.Code != "EMER" {
		t.Errorf("unexpected class %+v", enc.Class)
	}
	if enc.Subject.Reference != "Patient/"+p.ID {
		t.Errorf("unexpected subject %s", enc.Subject.Reference)
	}
	wantLoc := "Service URG, Chambre 12, Lit 2, Établissement CHU-LYON, Bâtiment B, Étage 3"
	if len(enc.Location) != 1 || enc.Location[0].Location.Display != wantLoc {
		t.Errorf("unexpected location %+v", enc.Location)
	}
	if enc.Period == nil || enc.Period.Start != "2024-03-15T08:30:15+01:00" {
		t.Errorf("unexpected period %+v", enc.Period)
	}
	if enc.Period.End != "2024-03-16T00:00:00+01:00" || enc.Status != r4.EncounterFinished {
		t.Errorf("discharge should finish the encounter, got %s %+v", enc.Status, enc.Period)
	}
	if enc.ServiceType == nil || enc.ServiceType.Text != "URG" {
		t.Errorf("unexpected service type %+v", enc.ServiceType)
	}
	if len(enc.Identifier) != 1 || enc.Identifier[0].Value != "V42" {
		t.Errorf("unexpected visit number %+v", enc.Identifier)
	}

	if len(enc.Participant) != 1 {
		t.Fatalf("expected one participant, got %d", len(enc.Participant))
	}
	part := enc.Participant[0]
	if part.Type[0].Coding[0].Code != "ATND" {
		t.Errorf("unexpected participant type %+v", part.Type)
	}
	res, ok := ctx.ResourceByType(r4.TypePractitioner)
	if !ok {
		t.Fatal("practitioner not registered")
	}
	pr := res.(*r4.Practitioner)
	if part.Individual.Reference != "Practitioner/"+pr.ID {
		t.Errorf("participant does not reference practitioner: %s", part.Individual.Reference)
	}
	if pr.Identifier[0].System != r4.SystemRPPS || pr.Name[0].Prefix[0] != "Dr" {
		t.Errorf("unexpected practitioner %+v", pr)
	}
}

func TestEncounterDefaults(t *testing.T) {
	ctx, _ := contextWithPatient(t)
	if err := (&EncounterProcessor{logger: zap.NewNop()}).Process(segment(t, "PV1|1"), ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	enc, _ := ctx.Encounter()
	if enc.Status != r4.EncounterInProgress || enc.Class.Code != "AMB" {
		t.Errorf("unexpected defaults %s %s", enc.Status, enc.Class.Code)
	}
	if enc.Period != nil || len(enc.Participant) != 0 || len(enc.Location) != 0 {
		t.Errorf("unexpected optional fields %+v", enc)
	}
	if _, ok := ctx.ResourceByType(r4.TypePractitioner); ok {
		t.Error("no practitioner expected")
	}
}

func TestZSegmentProcessor(t *testing.T) {
	ctx, p := contextWithPatient(t)
	if err := (&EncounterProcessor{logger: zap.NewNop()}).Process(segment(t, "PV1|1|I"), ctx); err != nil {
		t.Fatalf("PV1: %v", err)
	}
	proc := &ZSegmentProcessor{logger: zap.NewNop()}

	for _, line := range []string{
		"ZBE|MVT1|20240315||INSERT|N",
		"ZFP|1|33",
		"ZFA|1|20240101",
		"ZZZ|ignored",
	} {
		if err := proc.Process(segment(t, line), ctx); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}

	enc, _ := ctx.Encounter()
	if len(enc.Extension) != 4 {
		t.Fatalf("expected 4 encounter extensions, got %+v", enc.Extension)
	}
	if enc.Extension[0].URL != r4.DefaultExtensionBase+"ZBE-movementId" || enc.Extension[0].ValueString != "MVT1" {
		t.Errorf("unexpected extension %+v", enc.Extension[0])
	}
	if enc.Extension[2].URL != r4.DefaultExtensionBase+"ZBE-action" {
		t.Errorf("unexpected extension %+v", enc.Extension[2])
	}
	if len(p.Extension) != 2 || p.Extension[1].URL != r4.DefaultExtensionBase+"ZFP-socioProfessionalCategory" {
		t.Errorf("unexpected patient extensions %+v", p.Extension)
	}
}

func TestZSegmentMissingTarget(t *testing.T) {
	ctx, _ := contextWithPatient(t)
	err := (&ZSegmentProcessor{logger: zap.NewNop()}).Process(segment(t, "ZBE|MVT1"), ctx)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected missing dependency, got %v", err)
	}
}

func TestCoverageProcessor(t *testing.T) {
	ctx, p := contextWithPatient(t)
	proc := &CoverageProcessor{logger: zap.NewNop()}
	seg := segment(t, "IN1|1|PLAN1|011234567|CPAM LYON||||GRP1||||20240101|20241231||AMO||SPO|||||||||||||||||||1800175123456")
	if err := proc.Process(seg, ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	res, ok := ctx.ResourceByType(r4.TypeCoverage)
	if !ok {
		t.Fatal("coverage not registered")
	}
	cov := res.(*r4.Coverage)
	if cov.Status != r4.CoverageActive || cov.Beneficiary.Reference != "Patient/"+p.ID {
		t.Errorf("unexpected coverage %+v", cov)
	}
	if cov.SubscriberID != "1800175123456" {
		t.Errorf("unexpected subscriber id %s", cov.SubscriberID)
	}
	if cov.Relationship.Coding[0].Code != "spouse" {
		t.Errorf("unexpected relationship %+v", cov.Relationship)
	}
	if cov.Period.Start != "2024-01-01" || cov.Period.End != "2024-12-31" {
		t.Errorf("unexpected period %+v", cov.Period)
	}
	if len(cov.Class) != 2 {
		t.Errorf("expected plan and group classes, got %+v", cov.Class)
	}

	orgRes, _ := ctx.ResourceByType(r4.TypeOrganization)
	org := orgRes.(*r4.Organization)
	if cov.Payor[0].Reference != "Organization/"+org.ID {
		t.Errorf("payor does not reference organization: %+v", cov.Payor)
	}
	if org.Name != "Régime général (CPAM)" || org.Identifier[0].System != r4.SystemGrandRegime {
		t.Errorf("unexpected organization %+v", org)
	}
}

func TestCoverageUnmappedInsurer(t *testing.T) {
	ctx, _ := contextWithPatient(t)
	proc := &CoverageProcessor{logger: zap.NewNop()}
	if err := proc.Process(segment(t, "IN1|1||99999"), ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := proc.Process(segment(t, "IN2|1|ignored"), ctx); err != nil {
		t.Fatalf("IN2: %v", err)
	}

	orgRes, ok := ctx.ResourceByType(r4.TypeOrganization)
	if !ok {
		t.Fatal("organization must always be created")
	}
	org := orgRes.(*r4.Organization)
	if org.Name != "Organisme d'assurance 99999" {
		t.Errorf("unexpected synthesized name %s", org.Name)
	}
	if ctx.Len() != 3 {
		t.Errorf("IN2 must not add resources, have %d", ctx.Len())
	}
}

func TestImpossibleDatesOmitted(t *testing.T) {
	ctx, _ := contextWithPatient(t)
	if err := (&CoverageProcessor{logger: zap.NewNop()}).Process(segment(t, "IN1|1||011234567|||||||||20249999|20241399"), ctx); err != nil {
		t.Fatalf("IN1: %v", err)
	}
	res, _ := ctx.ResourceByType(r4.TypeCoverage)
	if cov := res.(*r4.Coverage); cov.Period != nil {
		t.Errorf("expected no coverage period, got %+v", cov.Period)
	}

	pv1 := "PV1|1|I" + strings.Repeat("|", 42) + "20241340083015|20240316250000"
	if err := (&EncounterProcessor{logger: zap.NewNop()}).Process(segment(t, pv1), ctx); err != nil {
		t.Fatalf("PV1: %v", err)
	}
	res, _ = ctx.ResourceByType(r4.TypeEncounter)
	enc := res.(*r4.Encounter)
	if enc.Period != nil {
		t.Errorf("expected no encounter period, got %+v", enc.Period)
	}
	if enc.Status == r4.EncounterFinished {
		t.Error("an unreadable discharge time must not finish the encounter")
	}
}

func TestFormatHL7DateTime(t *testing.T) {
	tests := map[string]string{
		"20240315":       "2024-03-15T00:00:00+01:00",
		"202403151045":   "2024-03-15T10:45:00+01:00",
		"20240315104512": "2024-03-15T10:45:12+01:00",
		"2024":           "",
		"":               "",
		"20249999":       "",
		"20240315250000": "",
		"202403151075":   "",
		"20240315104575": "",
	}
	for in, want := range tests {
		if got := formatHL7DateTime(in, DefaultTimezoneOffset); got != want {
			t.Errorf("formatHL7DateTime(%q) = %q, want %q", in, got, want)
		}
	}

	// The source offset is dropped in favour of the configured one.
	if got := formatHL7DateTime("20240315104512+0200", "+01:00"); got != "2024-03-15T10:45:12+01:00" {
		t.Errorf("unexpected offset handling %q", got)
	}
}

func TestGuardFieldRecovers(t *testing.T) {
	called := false
	guardField(zap.NewNop(), "PID", "7", func() {
		called = true
		var s []string
		_ = s[3]
	})
	if !called {
		t.Error("extractor was not run")
	}
}
