package converter

import (
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// NK1 field positions
const (
	nk1Name          = 2
	nk1Relationship  = 3
	nk1Address       = 4
	nk1Phone         = 5
	nk1BusinessPhone = 6
)

// ContactProcessor appends NK1 next of kin to Patient.contact.
type ContactProcessor struct {
	logger *zap.Logger
}

// Process implements Processor.
func (p *ContactProcessor) Process(seg hl7.Segment, ctx *Context) error {
	patient, ok := ctx.Patient()
	if !ok {
		return missing("NK1", r4.TypePatient)
	}

	var contact r4.PatientContact

	guardField(p.logger, seg.Tag, "2", func() {
		reps := hl7.Repetitions(seg.Field(nk1Name))
		if len(reps) == 0 {
			return
		}
		if name, ok := buildSimpleName(reps[0]); ok {
			contact.Name = &name
		}
	})

	guardField(p.logger, seg.Tag, "3", func() {
		rel := seg.Field(nk1Relationship)
		cc := codeable(rules.Relationship(hl7.Component(rel, 1)))
		cc.Text = hl7.Component(rel, 2)
		contact.Relationship = []r4.CodeableConcept{*cc}
	})

	guardField(p.logger, seg.Tag, "4", func() {
		reps := hl7.Repetitions(seg.Field(nk1Address))
		if len(reps) == 0 {
			return
		}
		if addr, ok := buildAddress(reps[0]); ok {
			contact.Address = &addr
		}
	})

	guardField(p.logger, seg.Tag, "5", func() {
		contact.Telecom = append(contact.Telecom, telecoms(seg.Field(nk1Phone), "home")...)
	})
	guardField(p.logger, seg.Tag, "6", func() {
		contact.Telecom = append(contact.Telecom, telecoms(seg.Field(nk1BusinessPhone), "work")...)
	})

	if contact.Name == nil && contact.Address == nil && len(contact.Telecom) == 0 {
		p.logger.Debug("empty NK1 ignored", zap.Int("line", seg.Line))
		return nil
	}

	patient.Contact = append(patient.Contact, contact)
	return nil
}
