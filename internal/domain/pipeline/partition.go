package pipeline

import "github.com/GriffinCanCode/mosaic/internal/domain/session"

// Span is a contiguous run of tiles [Start, End) uploaded in one request
type Span struct {
	Start int
	End   int
	Size  int64
}

// Len returns the number of tiles in the span
func (s Span) Len() int {
	return s.End - s.Start
}

// Batch is a span together with its tiles
type Batch struct {
	Span
	Tiles []session.Blob
}

// Spans splits sizes into consecutive spans by greedy cumulative size.
// A tile that would push a non-empty span past threshold starts a new one,
// and a span is closed as soon as it reaches threshold. Only a single tile
// larger than threshold produces a span above it.
func Spans(sizes []int64, threshold int64) []Span {
	if len(sizes) == 0 {
		return nil
	}

	var spans []Span
	cur := Span{}
	for i, size := range sizes {
		if cur.Len() > 0 && cur.Size+size > threshold {
			spans = append(spans, cur)
			cur = Span{Start: i, End: i}
		}
		cur.End = i + 1
		cur.Size += size
		if cur.Size >= threshold {
			spans = append(spans, cur)
			cur = Span{Start: i + 1, End: i + 1}
		}
	}
	if cur.Len() > 0 {
		spans = append(spans, cur)
	}
	return spans
}

// Partition groups tiles into upload batches of at most threshold bytes
func Partition(tiles []session.Blob, threshold int64) []Batch {
	sizes := make([]int64, len(tiles))
	for i, t := range tiles {
		sizes[i] = t.Size()
	}

	spans := Spans(sizes, threshold)
	batches := make([]Batch, len(spans))
	for i, span := range spans {
		batches[i] = Batch{Span: span, Tiles: tiles[span.Start:span.End]}
	}
	return batches
}
