package converter

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

const admissionA01 = "MSH|^~\\&|SIH|CHU-LYON|FHIRHUB|ARS|20240315103000||ADT^A01^ADT_A01|MSG00001|P|2.5|||||FRA|8859/1\r" +
	"EVN|A01|20240315103000\r" +
	"PID|1||123456789^^^CHU-LYON&1.2.250.1.71.4.2.2&ISO^PI~180017512345678^^^ASIP-SANTE-INS-NIR&1.2.250.1.213.1.4.8&ISO^INS||DUPONT^^MARIE JEANNE LOUISE^^^^L~MARTIN^MARIE^^^^^M||19800101|F|||12 rue de la Paix^Bât A^Lyon^^69001^FRA^H||0478000000^PRN^PH~marie.dupont@example.fr^NET^Internet|0472000000^WPN^PH||M\r" +
	"NK1|1|DUPONT^PIERRE|SPO^Conjoint|12 rue de la Paix^^Lyon^^69001^FRA^H|0600000000^PRN^CP\r" +
	"PV1|1|I|CARDIO^101^A^CHU-LYON||||10003456789^MARTIN^Paul^^^Dr^^^RPPS&1.2.250.1.71.4.2.1&ISO|||CAR|||||||||V20240001^^^CHU-LYON&1.2.250.1.71.4.2.2&ISO^VN|||||||||||||||||||||||||20240315103000\r" +
	"ZBE|MVT001^CHU-LYON|20240315103000||INSERT|N||CARDIO^^^^^^UF^^^4001||HMS\r" +
	"ZFP|1|33\r" +
	"IN1|1|PLAN1|011234567^^^^^CPAM|CPAM LYON||||GRP1||||20240101|20241231||AMO||SEL|||||||||||||||||||1800175123456\r" +
	"IN2|1|1800175123456\r"

func newTestConverter(t *testing.T) (*Converter, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(Options{}, zap.New(core)), logs
}

func entriesOfType(t *testing.T, data map[string]any, resourceType string) []map[string]any {
	t.Helper()
	entries, ok := data["entry"].([]any)
	if !ok {
		t.Fatalf("bundle has no entry array: %v", data["entry"])
	}
	var out []map[string]any
	for _, e := range entries {
		res := e.(map[string]any)["resource"].(map[string]any)
		if res["resourceType"] == resourceType {
			out = append(out, res)
		}
	}
	return out
}

func mustConvert(t *testing.T, c *Converter, raw string) map[string]any {
	t.Helper()
	res := c.Convert(raw)
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Message)
	}
	if res.FHIRData == nil {
		t.Fatal("successful conversion without fhirData")
	}
	return res.FHIRData
}

func TestConvertAdmission(t *testing.T) {
	c, _ := newTestConverter(t)
	data := mustConvert(t, c, admissionA01)

	if data["resourceType"] != "Bundle" || data["type"] != "transaction" {
		t.Fatalf("unexpected bundle header: %v %v", data["resourceType"], data["type"])
	}

	counts := map[string]int{
		r4.TypePatient:      1,
		r4.TypeEncounter:    1,
		r4.TypePractitioner: 1,
		r4.TypeOrganization: 1,
		r4.TypeCoverage:     1,
	}
	for rt, want := range counts {
		if got := len(entriesOfType(t, data, rt)); got != want {
			t.Errorf("expected %d %s, got %d", want, rt, got)
		}
	}

	for _, e := range data["entry"].([]any) {
		entry := e.(map[string]any)
		req, ok := entry["request"].(map[string]any)
		if !ok {
			t.Fatalf("entry without request: %v", entry)
		}
		res := entry["resource"].(map[string]any)
		if req["method"] != "POST" || req["url"] != res["resourceType"] {
			t.Errorf("unexpected request %v for %v", req, res["resourceType"])
		}
	}
}

func TestPatientSegmentYieldsExactlyOnePatient(t *testing.T) {
	c, _ := newTestConverter(t)
	messages := []string{
		"PID|1||42",
		"MSH|^~\\&|A|B|C|D|20240101||ADT^A04|1|P|2.5\rPID|1||42^^^HOP||DOE^JOHN",
		admissionA01,
	}
	for _, m := range messages {
		data := mustConvert(t, c, m)
		if n := len(entriesOfType(t, data, r4.TypePatient)); n != 1 {
			t.Errorf("expected exactly one Patient, got %d for %q", n, m)
		}
	}
}

func TestNoVisitSegmentNoEncounter(t *testing.T) {
	c, _ := newTestConverter(t)
	data := mustConvert(t, c, "MSH|^~\\&|A|B|C|D|20240101||ADT^A28|1|P|2.5\rPID|1||42||DOE^JOHN||19700101|M")
	if n := len(entriesOfType(t, data, r4.TypeEncounter)); n != 0 {
		t.Errorf("expected no Encounter, got %d", n)
	}
}

func TestCompositeGivenNames(t *testing.T) {
	c, _ := newTestConverter(t)
	data := mustConvert(t, c, "PID|1||42||DUPONT^^MARIE JEANNE LOUISE^^^^L")

	patient := entriesOfType(t, data, r4.TypePatient)[0]
	names := patient["name"].([]any)
	if len(names) != 1 {
		t.Fatalf("expected one name, got %v", names)
	}
	name := names[0].(map[string]any)
	given := name["given"].([]any)
	want := []string{"MARIE", "JEANNE", "LOUISE"}
	if len(given) != len(want) {
		t.Fatalf("expected given %v, got %v", want, given)
	}
	for i := range want {
		if given[i] != want[i] {
			t.Errorf("given[%d]: expected %s, got %v", i, want[i], given[i])
		}
	}
	if name["family"] != "DUPONT" || name["use"] != "official" {
		t.Errorf("unexpected name %v", name)
	}
}

func TestGenderMapping(t *testing.T) {
	c, _ := newTestConverter(t)
	tests := map[string]string{"F": "female", "M": "male", "O": "other", "U": "unknown", "X": "unknown", "": "unknown"}
	for code, want := range tests {
		data := mustConvert(t, c, "PID|1||42||DOE^JANE|||"+code)
		patient := entriesOfType(t, data, r4.TypePatient)[0]
		if patient["gender"] != want {
			t.Errorf("sex %q: expected %s, got %v", code, want, patient["gender"])
		}
	}
}

func TestBirthDate(t *testing.T) {
	c, _ := newTestConverter(t)

	data := mustConvert(t, c, "PID|1||42||DOE^JANE||19800101|F")
	patient := entriesOfType(t, data, r4.TypePatient)[0]
	if patient["birthDate"] != "1980-01-01" {
		t.Errorf("expected 1980-01-01, got %v", patient["birthDate"])
	}

	for _, bad := range []string{"1980", "1980AB01", "", "19801399", "19800230", "19800001"} {
		data = mustConvert(t, c, "PID|1||42||DOE^JANE||"+bad+"|F")
		patient = entriesOfType(t, data, r4.TypePatient)[0]
		if _, ok := patient["birthDate"]; ok {
			t.Errorf("birth date %q should be omitted, got %v", bad, patient["birthDate"])
		}
	}
}

func TestUnknownSegmentIgnored(t *testing.T) {
	c, logs := newTestConverter(t)
	data := mustConvert(t, c, "PID|1||42||DOE^JANE\rOBX|1|TX|NOTE||hello\rXYZ|foo")

	entries := data["entry"].([]any)
	if len(entries) != 1 {
		t.Errorf("expected only the Patient entry, got %d", len(entries))
	}
	if logs.FilterMessage("segment skipped").Len() != 2 {
		t.Errorf("expected 2 skipped segment logs, got %d", logs.FilterMessage("segment skipped").Len())
	}
}

func TestEmptyInput(t *testing.T) {
	c, _ := newTestConverter(t)
	for _, in := range []string{"", "   ", "\r\n\r\n"} {
		res := c.Convert(in)
		if res.Success {
			t.Errorf("%q: expected failure", in)
		}
		if res.FHIRData != nil {
			t.Errorf("%q: expected nil fhirData", in)
		}
		if res.Message == "" {
			t.Errorf("%q: expected a message", in)
		}
	}

	raw, err := json.Marshal(c.Convert(""))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if !strings.Contains(string(raw), `"fhirData":null`) || !strings.Contains(string(raw), `"success":false`) {
		t.Errorf("unexpected envelope %s", raw)
	}
}

func TestConcurrentConversionsUseDistinctIDs(t *testing.T) {
	c, _ := newTestConverter(t)
	inputs := []string{
		admissionA01,
		"PID|1||1||A^B\rPV1|1|E",
		"PID|1||2||C^D\rIN1|1||02",
		"PID|1||3||E^F\rNK1|1|G^H|MTH",
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, in := range inputs {
			wg.Add(1)
			go func(raw string) {
				defer wg.Done()
				res := c.Convert(raw)
				if !res.Success {
					t.Errorf("conversion failed: %s", res.Message)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for _, e := range res.FHIRData["entry"].([]any) {
					id := e.(map[string]any)["resource"].(map[string]any)["id"].(string)
					seen[id]++
				}
			}(in)
		}
	}
	wg.Wait()

	for id, n := range seen {
		if n > 1 {
			t.Errorf("id %s produced %d times", id, n)
		}
	}
}

func TestStageOrder(t *testing.T) {
	c, _ := newTestConverter(t)
	want := []string{StageSplit, StageDispatch, StageBundle, StageNames, StageClean}
	got := c.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestProcessorFailureAbortsConversion(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	reg := DefaultRegistry(logger)
	reg.Register("OBX", ProcessorFunc(func(seg hl7.Segment, ctx *Context) error {
		var m map[string]int
		m["boom"] = 1
		return nil
	}))
	c := NewWithRegistry(reg, Options{}, logger)

	res := c.Convert("PID|1||42||DOE^JANE\rOBX|1")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.FHIRData != nil {
		t.Error("no partial bundle may be returned")
	}
	if !strings.Contains(res.Message, "OBX") {
		t.Errorf("message should name the segment, got %q", res.Message)
	}
}

func TestMissingDependencyIsSkipped(t *testing.T) {
	c, logs := newTestConverter(t)
	data := mustConvert(t, c, "NK1|1|DOE^JOHN|SPO\rPV1|1|I\rIN1|1||01\rZBE|MVT1")

	if entries := data["entry"].([]any); len(entries) != 0 {
		t.Errorf("expected no resources, got %d", len(entries))
	}
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("segment ignored")
	if warnings.Len() != 4 {
		t.Errorf("expected 4 warnings, got %d", warnings.Len())
	}
}

func TestWithOptions(t *testing.T) {
	c, _ := newTestConverter(t)
	custom := c.WithOptions(Options{IdentifierField: 2, TimezoneOffset: "+02:00"})

	if custom.Options().IdentifierField != 2 {
		t.Errorf("expected identifier field 2, got %d", custom.Options().IdentifierField)
	}
	if custom.Options().ExtensionBase != r4.DefaultExtensionBase {
		t.Errorf("unset options should keep defaults, got %s", custom.Options().ExtensionBase)
	}

	data := mustConvert(t, custom, "PID|1|EXT42^^^HOP||||19800101\rPV1|1|O||||||||||||||||||||||||||||||||||||||||||202403151030")
	patient := entriesOfType(t, data, r4.TypePatient)[0]
	ids := patient["identifier"].([]any)
	if ids[0].(map[string]any)["value"] != "EXT42" {
		t.Errorf("expected identifier from PID-2, got %v", ids)
	}
	enc := entriesOfType(t, data, r4.TypeEncounter)[0]
	period := enc["period"].(map[string]any)
	if period["start"] != "2024-03-15T10:30:00+02:00" {
		t.Errorf("unexpected period start %v", period["start"])
	}
}
