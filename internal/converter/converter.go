// Package converter turns HL7 v2.5 admission messages into FHIR R4
// transaction bundles following French identifier and coding conventions.
//
// A conversion runs a fixed pipeline of named stages:
//
//	split -> dispatch -> bundle -> names -> clean
//
// The names stage reads the raw text again and is the last writer of
// Patient.name. Any stage failure aborts the call; no partial bundle is
// ever returned.
package converter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// Result is the envelope returned for every call.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	FHIRData map[string]any `json:"fhirData"`
}

// Messages returned in the envelope.
const (
	MessageSuccess = "Conversion réussie"
	MessageFailure = "Erreur lors de la conversion"
)

// Stage names, in execution order.
const (
	StageSplit    = "split"
	StageDispatch = "dispatch"
	StageBundle   = "bundle"
	StageNames    = "names"
	StageClean    = "clean"
)

// run holds the state threaded through the stages of one call.
type run struct {
	raw      string
	header   hl7.Header
	segments []hl7.Segment
	ctx      *Context
	bundle   *r4.Bundle
	data     map[string]any
	skipped  int
}

type stage struct {
	name string
	fn   func(*run) error
}

// Converter is immutable after New and safe for concurrent use.
type Converter struct {
	registry *Registry
	opts     Options
	logger   *zap.Logger
	stages   []stage
}

// New returns a converter using the default processor registry.
func New(opts Options, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewWithRegistry(DefaultRegistry(logger), opts, logger)
}

// NewWithRegistry returns a converter dispatching through registry.
func NewWithRegistry(registry *Registry, opts Options, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Converter{
		registry: registry,
		opts:     opts.Merge(DefaultOptions()),
		logger:   logger,
	}
	c.stages = []stage{
		{StageSplit, c.split},
		{StageDispatch, c.dispatch},
		{StageBundle, c.toBundle},
		{StageNames, c.names},
		{StageClean, c.clean},
	}
	return c
}

// WithOptions returns a converter sharing the registry with opts applied on
// top of the current options.
func (c *Converter) WithOptions(opts Options) *Converter {
	return NewWithRegistry(c.registry, opts.Merge(c.opts), c.logger)
}

// Options returns the effective options.
func (c *Converter) Options() Options {
	return c.opts
}

// Stages returns the stage names in execution order.
func (c *Converter) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return names
}

// Convert runs the pipeline on a raw message.
func (c *Converter) Convert(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Success: false, Message: ErrEmptyInput.Error()}
	}

	start := time.Now()
	r := &run{raw: raw, ctx: NewContext(c.opts)}
	for _, s := range c.stages {
		if err := c.runStage(s, r); err != nil {
			c.logger.Error("conversion aborted",
				zap.String("stage", s.name),
				zap.String("control_id", r.header.ControlID),
				zap.Error(err),
			)
			return Result{Success: false, Message: fmt.Sprintf("%s: %v", MessageFailure, err)}
		}
	}

	c.logger.Info("conversion completed",
		zap.String("message_type", r.header.MessageType),
		zap.String("control_id", r.header.ControlID),
		zap.Int("segments", len(r.segments)),
		zap.Int("skipped", r.skipped),
		zap.Int("resources", r.ctx.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return Result{Success: true, Message: MessageSuccess, FHIRData: r.data}
}

// runStage turns a panic into a StageError so one bad stage cannot escape.
func (c *Converter) runStage(s stage, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &StageError{Stage: s.name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := s.fn(r); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		return &StageError{Stage: s.name, Err: err}
	}
	return nil
}

func (c *Converter) split(r *run) error {
	r.segments = hl7.Split(r.raw)
	if len(r.segments) == 0 {
		return ErrEmptyInput
	}
	r.header, _ = hl7.ParseHeader(r.segments)
	return nil
}

func (c *Converter) dispatch(r *run) error {
	for _, seg := range r.segments {
		p, ok := c.registry.Lookup(seg.Tag)
		if !ok {
			r.skipped++
			c.logger.Debug("segment skipped", zap.String("segment", seg.Tag), zap.Int("line", seg.Line))
			continue
		}
		if err := c.process(p, seg, r.ctx); err != nil {
			if errors.Is(err, ErrMissingDependency) {
				r.skipped++
				c.logger.Warn("segment ignored", zap.String("segment", seg.Tag), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Converter) process(p Processor, seg hl7.Segment, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &SegmentError{Tag: seg.Tag, Line: seg.Line, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if err := p.Process(seg, ctx); err != nil {
		if errors.Is(err, ErrMissingDependency) {
			return err
		}
		return &SegmentError{Tag: seg.Tag, Line: seg.Line, Err: err}
	}
	return nil
}

func (c *Converter) toBundle(r *run) error {
	r.bundle = r.ctx.ToBundle()
	return nil
}

func (c *Converter) names(r *run) error {
	applyNames(r.bundle, r.raw)
	return nil
}

func (c *Converter) clean(r *run) error {
	data, err := r.bundle.ToMap()
	if err != nil {
		return err
	}
	r.data = Clean(data)
	return nil
}
