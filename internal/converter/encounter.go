package converter

import (
	"strings"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// PV1 field positions
const (
	pv1PatientClass    = 2
	pv1Location        = 3
	pv1Attending       = 7
	pv1HospitalService = 10
	pv1VisitNumber     = 19
	pv1AdmitTime       = 44
	pv1DischargeTime   = 45
)

var attenderType = r4.CodeableConcept{
	Coding: []r4.Coding{{
		System:  r4.SystemV3ParticipationType,
		Code:    "ATND",
		Display: "attender",
	}},
}

// EncounterProcessor maps PV1 into an Encounter and its attending Practitioner.
type EncounterProcessor struct {
	logger *zap.Logger
}

// Process implements Processor.
func (p *EncounterProcessor) Process(seg hl7.Segment, ctx *Context) error {
	patient, ok := ctx.Patient()
	if !ok {
		return missing("PV1", r4.TypePatient)
	}
	opts := ctx.Options()

	enc := r4.NewEncounter(ctx.NewID())
	enc.Status = r4.EncounterInProgress
	enc.Class = rules.PatientClassFallback
	enc.Subject = &r4.Reference{Reference: r4.ReferenceTo(r4.TypePatient, patient.ID)}

	guardField(p.logger, seg.Tag, "2", func() {
		enc.Class = rules.PatientClass(seg.Field(pv1PatientClass))
	})

	guardField(p.logger, seg.Tag, "3", func() {
		if display := locationDisplay(seg.Field(pv1Location)); display != "" {
			enc.Location = []r4.EncounterLocation{{Location: r4.Reference{Display: display}}}
		}
	})

	guardField(p.logger, seg.Tag, "7", func() {
		reps := hl7.Repetitions(seg.Field(pv1Attending))
		if len(reps) == 0 {
			return
		}
		practitioner, ok := buildPractitioner(reps[0], ctx.NewID(), opts)
		if !ok {
			return
		}
		ctx.AddResource(practitioner)
		enc.Participant = append(enc.Participant, r4.EncounterParticipant{
			Type:       []r4.CodeableConcept{attenderType},
			Individual: &r4.Reference{Reference: r4.ReferenceTo(r4.TypePractitioner, practitioner.ID)},
		})
	})

	guardField(p.logger, seg.Tag, "10", func() {
		if service := hl7.Component(seg.Field(pv1HospitalService), 1); service != "" {
			enc.ServiceType = &r4.CodeableConcept{Text: service}
		}
	})

	guardField(p.logger, seg.Tag, "19", func() {
		if id, ok := buildIdentifier(seg.Field(pv1VisitNumber), opts); ok {
			id.Use = "usual"
			enc.Identifier = append(enc.Identifier, id)
		}
	})

	guardField(p.logger, seg.Tag, "44", func() {
		if start := formatHL7DateTime(seg.Field(pv1AdmitTime), opts.TimezoneOffset); start != "" {
			enc.Period = &r4.Period{Start: start}
		}
	})

	guardField(p.logger, seg.Tag, "45", func() {
		end := formatHL7DateTime(seg.Field(pv1DischargeTime), opts.TimezoneOffset)
		if end == "" {
			return
		}
		if enc.Period == nil {
			enc.Period = &r4.Period{}
		}
		enc.Period.End = end
		enc.Status = r4.EncounterFinished
	})

	ctx.AddResource(enc)
	p.logger.Debug("encounter mapped",
		zap.String("encounter_id", enc.ID),
		zap.String("class", enc.Class.Code),
	)
	return nil
}

// locationDisplay renders the PV1-3 point of care as "Service X, Chambre Y, ...".
func locationDisplay(pl string) string {
	var parts []string
	for _, part := range rules.LocationParts {
		if v := hl7.Component(pl, part.Component); v != "" {
			parts = append(parts, part.Label+" "+v)
		}
	}
	return strings.Join(parts, ", ")
}

// buildPractitioner maps an XCN: id^family^given^middle^suffix^prefix^degree^source^authority.
// An identifier without authority is taken as an RPPS number.
func buildPractitioner(xcn, id string, opts Options) (*r4.Practitioner, bool) {
	value := hl7.Component(xcn, 1)
	family := hl7.Component(xcn, 2)
	if value == "" && family == "" {
		return nil, false
	}

	pr := r4.NewPractitioner(id)
	if value != "" {
		authority := hl7.Component(xcn, 9)
		namespace := hl7.SubComponent(authority, 1)
		oid := hl7.SubComponent(authority, 2)
		system := r4.SystemRPPS
		if namespace != "" || oid != "" {
			system = rules.IdentifierSystem(namespace, oid, opts.IdentifierSystemBase)
		}
		pr.Identifier = []r4.Identifier{{System: system, Value: value}}
	}

	name := r4.HumanName{Family: family}
	for _, n := range []int{3, 4} {
		if given := hl7.Component(xcn, n); given != "" {
			name.Given = append(name.Given, given)
		}
	}
	if prefix := hl7.Component(xcn, 6); prefix != "" {
		name.Prefix = []string{prefix}
	}
	if !name.IsEmpty() {
		pr.Name = []r4.HumanName{name}
	}
	return pr, true
}
