package converter

import (
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// IN1 field positions
const (
	in1PlanID       = 2
	in1CompanyID    = 3
	in1CompanyName  = 4
	in1GroupNumber  = 8
	in1EffectiveOn  = 12
	in1ExpiresOn    = 13
	in1PlanType     = 15
	in1Relationship = 17
	in1PolicyNumber = 36
)

// CoverageProcessor maps IN1 into a Coverage paid by an Organization.
// IN2 is accepted and produces nothing.
type CoverageProcessor struct {
	logger *zap.Logger
}

// Process implements Processor.
func (p *CoverageProcessor) Process(seg hl7.Segment, ctx *Context) error {
	if seg.Tag != "IN1" {
		p.logger.Debug("segment accepted without mapping", zap.String("segment", seg.Tag))
		return nil
	}
	patient, ok := ctx.Patient()
	if !ok {
		return missing("IN1", r4.TypePatient)
	}
	opts := ctx.Options()

	org := r4.NewOrganization(ctx.NewID())
	active := true
	org.Active = &active

	guardField(p.logger, seg.Tag, "3", func() {
		company := seg.Field(in1CompanyID)
		insurer := rules.LookupInsurer(hl7.Component(company, 1), hl7.Component(seg.Field(in1CompanyName), 1))
		org.Name = insurer.Name
		if insurer.Code == "" {
			return
		}
		system := r4.SystemGrandRegime
		if !insurer.Known {
			authority := hl7.Component(company, 4)
			system = rules.IdentifierSystem(hl7.SubComponent(authority, 1), hl7.SubComponent(authority, 2), opts.IdentifierSystemBase)
		}
		org.Identifier = []r4.Identifier{{System: system, Value: insurer.Code}}
	})
	if org.Name == "" {
		org.Name = rules.InsurerFallbackName
	}
	ctx.AddResource(org)

	cov := r4.NewCoverage(ctx.NewID())
	cov.Status = r4.CoverageActive
	cov.Beneficiary = r4.Reference{Reference: r4.ReferenceTo(r4.TypePatient, patient.ID)}
	cov.Payor = []r4.Reference{{
		Reference: r4.ReferenceTo(r4.TypeOrganization, org.ID),
		Display:   org.Name,
	}}

	guardField(p.logger, seg.Tag, "36", func() {
		cov.SubscriberID = hl7.Component(seg.Field(in1PolicyNumber), 1)
	})

	guardField(p.logger, seg.Tag, "17", func() {
		if code := hl7.Component(seg.Field(in1Relationship), 1); code != "" {
			cov.Relationship = codeable(rules.SubscriberRelationship(code))
		}
	})

	guardField(p.logger, seg.Tag, "12", func() {
		start := formatHL7Date(seg.Field(in1EffectiveOn))
		end := formatHL7Date(seg.Field(in1ExpiresOn))
		if start != "" || end != "" {
			cov.Period = &r4.Period{Start: start, End: end}
		}
	})

	guardField(p.logger, seg.Tag, "15", func() {
		if planType := hl7.Component(seg.Field(in1PlanType), 1); planType != "" {
			cov.Type = &r4.CodeableConcept{Text: planType}
		}
	})

	guardField(p.logger, seg.Tag, "2", func() {
		if plan := hl7.Component(seg.Field(in1PlanID), 1); plan != "" {
			cov.Class = append(cov.Class, coverageClass("plan", plan))
		}
		if group := hl7.Component(seg.Field(in1GroupNumber), 1); group != "" {
			cov.Class = append(cov.Class, coverageClass("group", group))
		}
	})

	ctx.AddResource(cov)
	p.logger.Debug("coverage mapped",
		zap.String("coverage_id", cov.ID),
		zap.String("payor", org.Name),
	)
	return nil
}

func coverageClass(code, value string) r4.CoverageClass {
	return r4.CoverageClass{
		Type:  r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemCoverageClass, Code: code}}},
		Value: value,
	}
}
