package converter

import (
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// Processor maps one segment family into resources held by the Context.
type Processor interface {
	Process(seg hl7.Segment, ctx *Context) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(seg hl7.Segment, ctx *Context) error

// Process calls f.
func (f ProcessorFunc) Process(seg hl7.Segment, ctx *Context) error {
	return f(seg, ctx)
}

// Registry routes segment tags to processors. Exact tags take precedence
// over tag families registered by prefix.
type Registry struct {
	byTag    map[string]Processor
	families map[string]Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:    make(map[string]Processor),
		families: make(map[string]Processor),
	}
}

// DefaultRegistry wires the processors for the admission and visit segments.
func DefaultRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	coverage := &CoverageProcessor{logger: logger}

	r := NewRegistry()
	r.Register("PID", &PatientProcessor{logger: logger})
	r.Register("NK1", &ContactProcessor{logger: logger})
	r.Register("PV1", &EncounterProcessor{logger: logger})
	r.Register("IN1", coverage)
	r.Register("IN2", coverage)
	r.RegisterFamily("Z", &ZSegmentProcessor{logger: logger})
	return r
}

// Register binds an exact tag.
func (r *Registry) Register(tag string, p Processor) {
	r.byTag[tag] = p
}

// RegisterFamily binds every tag starting with prefix.
func (r *Registry) RegisterFamily(prefix string, p Processor) {
	r.families[prefix] = p
}

// Lookup returns the processor for a tag.
func (r *Registry) Lookup(tag string) (Processor, bool) {
	if p, ok := r.byTag[tag]; ok {
		return p, true
	}
	for prefix, p := range r.families {
		if len(tag) >= len(prefix) && tag[:len(prefix)] == prefix {
			return p, true
		}
	}
	return nil, false
}
