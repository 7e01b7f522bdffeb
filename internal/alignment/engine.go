package alignment

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("spanlink.alignment")

// Engine resolves cross-manifestation span correspondences by walking the
// alignment graph breadth first. It holds no per-call state.
type Engine struct {
	gw     Gateway
	logger *slog.Logger
}

func NewEngine(gw Gateway, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gw: gw, logger: logger.With("component", "alignment")}
}

type hop struct {
	manifestationID string
	span            Span
}

// Resolve returns, for every manifestation transitively aligned to startText,
// the segments corresponding to span. With transform set, the segments are
// those of the target's own segmentation overlapping the propagated span.
// Any gateway error aborts the walk and nothing partial is returned.
func (e *Engine) Resolve(ctx context.Context, startText string, span Span, transform bool) ([]RelatedManifestation, error) {
	ctx, sp := tracer.Start(ctx, "alignment.Resolve",
		trace.WithAttributes(
			attribute.String("alignment.start_text", startText),
			attribute.Int("alignment.span_start", span.Start),
			attribute.Int("alignment.span_end", span.End),
			attribute.Bool("alignment.transform", transform),
		),
	)
	defer sp.End()

	related, err := e.resolve(ctx, startText, span, transform)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	sp.SetAttributes(attribute.Int("alignment.related", len(related)))
	return related, nil
}

func (e *Engine) resolve(ctx context.Context, startText string, span Span, transform bool) ([]RelatedManifestation, error) {
	related := []RelatedManifestation{}
	visited := map[string]struct{}{startText: {}}
	traversed := map[Pair]struct{}{}

	queue := []hop{{manifestationID: startText, span: span}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		pairs, err := e.gw.AlignmentPairs(ctx, cur.manifestationID)
		if err != nil {
			return nil, fmt.Errorf("alignment pairs of %s: %w", cur.manifestationID, err)
		}
		e.logger.Debug("expanding manifestation", "manifestation_id", cur.manifestationID, "span", cur.span.String(), "pairs", len(pairs))

		for _, pair := range pairs {
			if _, done := traversed[pair]; done {
				continue
			}

			aligned, err := e.gw.AlignedSegments(ctx, pair.Alignment1ID, cur.span)
			if err != nil {
				return nil, fmt.Errorf("aligned segments of %s: %w", pair.Alignment1ID, err)
			}
			if len(aligned) == 0 {
				continue
			}
			propagated := coveringSpan(aligned)

			target, found, err := e.gw.ManifestationOf(ctx, pair.Alignment2ID)
			if err != nil {
				return nil, fmt.Errorf("manifestation of %s: %w", pair.Alignment2ID, err)
			}
			if !found {
				e.logger.Warn("alignment annotation has no manifestation", "annotation_id", pair.Alignment2ID)
				continue
			}
			if _, seen := visited[target]; seen {
				continue
			}
			visited[target] = struct{}{}

			segments := aligned
			if transform {
				segments, err = e.gw.OverlappingSegments(ctx, target, propagated)
				if err != nil {
					return nil, fmt.Errorf("overlapping segments of %s: %w", target, err)
				}
				if segments == nil {
					segments = []Segment{}
				}
			}
			related = append(related, RelatedManifestation{TextID: target, Segments: segments})

			traversed[pair] = struct{}{}
			traversed[pair.reversed()] = struct{}{}
			queue = append(queue, hop{manifestationID: target, span: propagated})
		}
	}
	return related, nil
}

// coveringSpan is [min start, max end) over segs. segs must be non-empty.
func coveringSpan(segs []Segment) Span {
	out := segs[0].Span
	for _, s := range segs[1:] {
		if s.Span.Start < out.Start {
			out.Start = s.Span.Start
		}
		if s.Span.End > out.End {
			out.End = s.Span.End
		}
	}
	return out
}
