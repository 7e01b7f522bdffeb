package alignment

import (
	"context"
	"fmt"
)

// Span is a half-open character range [Start, End).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether s and o share at least one position.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Segment is one addressable span of a manifestation.
type Segment struct {
	SegmentID string `json:"segment_id"`
	Span      Span   `json:"span"`
}

// Pair links two alignment annotations.
type Pair struct {
	Alignment1ID string `json:"alignment_1_id"`
	Alignment2ID string `json:"alignment_2_id"`
}

func (p Pair) reversed() Pair {
	return Pair{Alignment1ID: p.Alignment2ID, Alignment2ID: p.Alignment1ID}
}

// RelatedManifestation groups the corresponding segments found in one target manifestation.
type RelatedManifestation struct {
	TextID   string    `json:"text_id"`
	Segments []Segment `json:"segments"`
}

// Gateway is the read-only view of the alignment graph the engine walks.
type Gateway interface {
	// AlignmentPairs returns the alignment annotation pairs of a manifestation.
	AlignmentPairs(ctx context.Context, manifestationID string) ([]Pair, error)
	// AlignedSegments returns segments aligned to the part of alignment1ID
	// overlapping span, ordered by start.
	AlignedSegments(ctx context.Context, alignment1ID string, span Span) ([]Segment, error)
	// ManifestationOf resolves the manifestation owning an annotation.
	ManifestationOf(ctx context.Context, annotationID string) (string, bool, error)
	// OverlappingSegments returns segments of the manifestation's segmentation
	// overlapping span, ordered by start.
	OverlappingSegments(ctx context.Context, manifestationID string, span Span) ([]Segment, error)
}
