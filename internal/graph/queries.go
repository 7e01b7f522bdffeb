package graph

const (
	alignmentPairsQuery = `
MATCH (m:Manifestation {id: $manifestation_id})
MATCH (m)<-[:ANNOTATION_OF]-(a1:Annotation)-[:HAS_TYPE]->(:AnnotationType {name: 'alignment'})
MATCH (a1)-[:ALIGNED_TO]-(a2:Annotation)
RETURN a1.id AS alignment_1_id, a2.id AS alignment_2_id
ORDER BY alignment_1_id, alignment_2_id
`

	alignedSegmentsQuery = `
MATCH (a1:Annotation {id: $alignment_1_id})<-[:SEGMENTATION_OF]-(s1:Segment)
WHERE s1.span_start < $span_end AND s1.span_end > $span_start
MATCH (s1)-[:ALIGNED_TO]-(s2:Segment)
RETURN DISTINCT s2.id AS segment_id, s2.span_start AS span_start, s2.span_end AS span_end
ORDER BY span_start
`

	manifestationOfQuery = `
MATCH (a:Annotation {id: $annotation_id})-[:ANNOTATION_OF]->(m:Manifestation)
RETURN m.id AS manifestation_id
LIMIT 1
`

	overlappingSegmentsQuery = `
MATCH (m:Manifestation {id: $manifestation_id})<-[:ANNOTATION_OF]-(ann:Annotation)-[:HAS_TYPE]->(:AnnotationType {name: 'segmentation'})
MATCH (ann)<-[:SEGMENTATION_OF]-(s:Segment)
WHERE s.span_start < $span_end AND s.span_end > $span_start
RETURN s.id AS segment_id, s.span_start AS span_start, s.span_end AS span_end
ORDER BY span_start
`

	segmentsOfQuery = `
MATCH (m:Manifestation {id: $manifestation_id})<-[:ANNOTATION_OF]-(ann:Annotation)-[:HAS_TYPE]->(at:AnnotationType)
WHERE at.name IN ['segmentation', 'pagination']
MATCH (ann)<-[:SEGMENTATION_OF]-(s:Segment)
RETURN s.id AS segment_id, s.span_start AS span_start, s.span_end AS span_end
ORDER BY span_start
`
)
