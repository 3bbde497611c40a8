package converter

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// PID field positions
const (
	pidName          = 5
	pidBirthDate     = 7
	pidSex           = 8
	pidAddress       = 11
	pidHomePhone     = 13
	pidBusinessPhone = 14
	pidMaritalStatus = 16
	pidDeathDate     = 29
	pidDeathFlag     = 30
)

// PatientProcessor maps PID into a Patient.
type PatientProcessor struct {
	logger *zap.Logger
}

// Process implements Processor.
func (p *PatientProcessor) Process(seg hl7.Segment, ctx *Context) error {
	opts := ctx.Options()
	patient := r4.NewPatient(ctx.NewID())

	guardField(p.logger, seg.Tag, strconv.Itoa(opts.IdentifierField), func() {
		for _, cx := range hl7.Repetitions(seg.Field(opts.IdentifierField)) {
			if id, ok := buildIdentifier(cx, opts); ok {
				patient.Identifier = append(patient.Identifier, id)
			}
		}
	})

	// Provisional; the name pass rewrites Patient.name from the raw text.
	guardField(p.logger, seg.Tag, "5", func() {
		reps := hl7.Repetitions(seg.Field(pidName))
		if len(reps) == 0 {
			return
		}
		if name, ok := buildSimpleName(reps[0]); ok {
			name.Use = rules.NameUse(hl7.Component(reps[0], 7))
			patient.Name = []r4.HumanName{name}
		}
	})

	guardField(p.logger, seg.Tag, "7", func() {
		patient.BirthDate = formatHL7Date(seg.Field(pidBirthDate))
	})

	guardField(p.logger, seg.Tag, "8", func() {
		patient.Gender = rules.Gender(seg.Field(pidSex))
	})

	guardField(p.logger, seg.Tag, "11", func() {
		for _, xad := range hl7.Repetitions(seg.Field(pidAddress)) {
			if addr, ok := buildAddress(xad); ok {
				patient.Address = append(patient.Address, addr)
			}
		}
	})

	guardField(p.logger, seg.Tag, "13", func() {
		patient.Telecom = append(patient.Telecom, telecoms(seg.Field(pidHomePhone), "home")...)
	})
	guardField(p.logger, seg.Tag, "14", func() {
		patient.Telecom = append(patient.Telecom, telecoms(seg.Field(pidBusinessPhone), "work")...)
	})

	guardField(p.logger, seg.Tag, "16", func() {
		if code := hl7.Component(seg.Field(pidMaritalStatus), 1); code != "" {
			patient.MaritalStatus = codeable(rules.MaritalStatus(code))
		}
	})

	guardField(p.logger, seg.Tag, "29", func() {
		patient.DeceasedDateTime = formatHL7DateTime(seg.Field(pidDeathDate), opts.TimezoneOffset)
	})
	guardField(p.logger, seg.Tag, "30", func() {
		if patient.DeceasedDateTime != "" {
			return
		}
		switch strings.ToUpper(strings.TrimSpace(seg.Field(pidDeathFlag))) {
		case "Y":
			deceased := true
			patient.DeceasedBoolean = &deceased
		case "N":
			deceased := false
			patient.DeceasedBoolean = &deceased
		}
	})

	ctx.AddResource(patient)
	p.logger.Debug("patient mapped",
		zap.String("patient_id", patient.ID),
		zap.Int("identifiers", len(patient.Identifier)),
	)
	return nil
}

func telecoms(field, defaultUse string) []r4.ContactPoint {
	var out []r4.ContactPoint
	for _, xtn := range hl7.Repetitions(field) {
		if cp, ok := buildTelecom(xtn, defaultUse); ok {
			out = append(out, cp)
		}
	}
	return out
}
