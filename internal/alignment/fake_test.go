package alignment

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type link struct {
	source Segment
	target Segment
}

// fakeGraph is an in-memory alignment graph answering the four gateway queries.
type fakeGraph struct {
	pairs        map[string][]Pair
	links        map[string][]link
	owners       map[string]string
	segmentation map[string][]Segment

	failOn string // method name to fail

	mu    sync.Mutex
	calls map[string]int
}

var errGraphDown = errors.New("graph unreachable")

func (f *fakeGraph) record(method, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[method+":"+arg]++
	if f.failOn == method {
		return errGraphDown
	}
	return nil
}

func (f *fakeGraph) count(method, arg string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+":"+arg]
}

func (f *fakeGraph) AlignmentPairs(_ context.Context, manifestationID string) ([]Pair, error) {
	if err := f.record("AlignmentPairs", manifestationID); err != nil {
		return nil, err
	}
	return f.pairs[manifestationID], nil
}

func (f *fakeGraph) AlignedSegments(_ context.Context, alignment1ID string, span Span) ([]Segment, error) {
	if err := f.record("AlignedSegments", alignment1ID); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []Segment
	for _, l := range f.links[alignment1ID] {
		if l.source.Span.Overlaps(span) && !seen[l.target.SegmentID] {
			seen[l.target.SegmentID] = true
			out = append(out, l.target)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out, nil
}

func (f *fakeGraph) ManifestationOf(_ context.Context, annotationID string) (string, bool, error) {
	if err := f.record("ManifestationOf", annotationID); err != nil {
		return "", false, err
	}
	m, ok := f.owners[annotationID]
	return m, ok, nil
}

func (f *fakeGraph) OverlappingSegments(_ context.Context, manifestationID string, span Span) ([]Segment, error) {
	if err := f.record("OverlappingSegments", manifestationID); err != nil {
		return nil, err
	}
	var out []Segment
	for _, s := range f.segmentation[manifestationID] {
		if s.Span.Overlaps(span) {
			out = append(out, s)
		}
	}
	return out, nil
}

func seg(id string, start, end int) Segment {
	return Segment{SegmentID: id, Span: Span{Start: start, End: end}}
}

// twoCycleGraph: A aligned to B, B aligned back to A.
func twoCycleGraph() *fakeGraph {
	return &fakeGraph{
		pairs: map[string][]Pair{
			"A": {{Alignment1ID: "al-AB", Alignment2ID: "al-BA"}},
			"B": {{Alignment1ID: "al-BA", Alignment2ID: "al-AB"}},
		},
		links: map[string][]link{
			"al-AB": {
				{source: seg("a1", 0, 10), target: seg("b1", 0, 12)},
				{source: seg("a2", 10, 20), target: seg("b2", 12, 25)},
				{source: seg("a3", 20, 30), target: seg("b3", 25, 40)},
			},
			"al-BA": {
				{source: seg("b1", 0, 12), target: seg("a1", 0, 10)},
				{source: seg("b2", 12, 25), target: seg("a2", 10, 20)},
				{source: seg("b3", 25, 40), target: seg("a3", 20, 30)},
			},
		},
		owners: map[string]string{"al-AB": "A", "al-BA": "B"},
	}
}

// triangleGraph: A, B and C all aligned to one another, plus D hanging off B
// and only reachable through B's widened span.
func triangleGraph() *fakeGraph {
	return &fakeGraph{
		pairs: map[string][]Pair{
			"A": {
				{Alignment1ID: "al-AB", Alignment2ID: "al-BA"},
				{Alignment1ID: "al-AC", Alignment2ID: "al-CA"},
			},
			"B": {
				{Alignment1ID: "al-BA", Alignment2ID: "al-AB"},
				{Alignment1ID: "al-BC", Alignment2ID: "al-CB"},
				{Alignment1ID: "al-BD", Alignment2ID: "al-DB"},
			},
			"C": {
				{Alignment1ID: "al-CA", Alignment2ID: "al-AC"},
				{Alignment1ID: "al-CB", Alignment2ID: "al-BC"},
			},
			"D": {
				{Alignment1ID: "al-DB", Alignment2ID: "al-BD"},
			},
		},
		links: map[string][]link{
			"al-AB": {
				{source: seg("a1", 0, 10), target: seg("ab-b1", 0, 8)},
				{source: seg("a2", 10, 20), target: seg("ab-b2", 8, 22)},
				{source: seg("a3", 20, 30), target: seg("ab-b3", 22, 30)},
			},
			"al-AC": {
				{source: seg("a2", 10, 20), target: seg("ac-c1", 5, 15)},
			},
			"al-BA": {
				{source: seg("ab-b2", 8, 22), target: seg("a2", 10, 20)},
			},
			"al-BC": {
				{source: seg("b-s2", 10, 20), target: seg("bc-c2", 12, 18)},
			},
			"al-BD": {
				// Outside [10, 20) but inside B's widened [8, 22).
				{source: seg("b-edge", 20, 21), target: seg("bd-d1", 100, 140)},
			},
			"al-CB": {
				{source: seg("c-src", 10, 20), target: seg("cb-b2", 10, 20)},
			},
			"al-DB": {
				{source: seg("bd-d1", 100, 140), target: seg("b-edge", 20, 21)},
			},
		},
		owners: map[string]string{
			"al-AB": "A", "al-AC": "A",
			"al-BA": "B", "al-BC": "B", "al-BD": "B",
			"al-CA": "C", "al-CB": "C",
			"al-DB": "D",
		},
		segmentation: map[string][]Segment{
			"B": {seg("b-s1", 0, 10), seg("b-s2", 10, 20), seg("b-s3", 20, 30)},
			"C": {seg("c-s1", 0, 10), seg("c-s2", 10, 20)},
			"D": {seg("d-s1", 90, 120), seg("d-s2", 120, 150), seg("d-s3", 150, 200)},
		},
	}
}
