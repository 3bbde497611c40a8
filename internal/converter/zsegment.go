package converter

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/converter/rules"
	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
)

// ZSegmentProcessor turns configured Z-segment fields into extensions on the
// resource named by the rule's Target.
type ZSegmentProcessor struct {
	logger *zap.Logger
}

// Process implements Processor.
func (p *ZSegmentProcessor) Process(seg hl7.Segment, ctx *Context) error {
	rule, ok := rules.ZRuleFor(seg.Tag)
	if !ok {
		p.logger.Debug("unconfigured Z segment", zap.String("segment", seg.Tag))
		return nil
	}

	exts := zExtensions(p.logger, rule, seg, ctx.Options().ExtensionBase)
	if len(exts) == 0 {
		return nil
	}

	if rule.Target == "" {
		p.logger.Warn("Z segment has no attachment target",
			zap.String("segment", seg.Tag),
			zap.Int("extensions", len(exts)),
		)
		return nil
	}

	res, ok := ctx.ResourceByType(rule.Target)
	if !ok {
		return missing(seg.Tag, rule.Target)
	}
	target, ok := res.(r4.Extensible)
	if !ok {
		return missing(seg.Tag, "an extensible "+rule.Target)
	}
	target.AddExtension(exts...)
	return nil
}

func zExtensions(logger *zap.Logger, rule rules.ZRule, seg hl7.Segment, base string) []r4.Extension {
	var exts []r4.Extension
	for _, f := range rule.Fields {
		guardField(logger, seg.Tag, strconv.Itoa(f.Index), func() {
			value := seg.Field(f.Index)
			if value == "" {
				return
			}
			exts = append(exts, r4.Extension{
				URL:         rule.ExtensionURL(base, f),
				ValueString: value,
			})
		})
	}
	return exts
}
