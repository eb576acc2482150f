package wfsai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanToWkt(t *testing.T) {
	wkt := SpanToWkt([4]float64{1, 2, 3, 4})
	assert.Contains(t, wkt, "POLYGON((")
	tb := NewToolbox()
	span, err := tb.GetWktSpan(wkt, UNIVERSAL_SRID)
	require.NoError(t, err)
	assert.InDelta(t, 1, span[0], 1e-9)
	assert.InDelta(t, 2, span[1], 1e-9)
	assert.InDelta(t, 3, span[2], 1e-9)
	assert.InDelta(t, 4, span[3], 1e-9)
}

func TestTransformWkt(t *testing.T) {
	tb := NewToolbox()
	wkt := SpanToWkt([4]float64{113.6, 115.0, 29.9, 31.3})
	same, err := tb.TransformWkt(wkt, 4326, 4326)
	require.NoError(t, err)
	assert.Equal(t, wkt, same)

	ret, err := tb.TransformWkt(wkt, 4326, 3857)
	require.NoError(t, err)
	span, err := tb.GetWktSpan(ret, 3857)
	require.NoError(t, err)
	// web mercator easting of 113.6E
	assert.InDelta(t, 1.2646e7, span[0], 1e4)
}

func TestSpansOverlap(t *testing.T) {
	a := [4]float64{0, 10, 0, 10}
	assert.True(t, spansOverlap(a, [4]float64{5, 15, 5, 15}))
	assert.True(t, spansOverlap(a, a))
	assert.False(t, spansOverlap(a, [4]float64{10, 20, 0, 10})) // edge touch only
	assert.False(t, spansOverlap(a, [4]float64{20, 30, 20, 30}))
}

func TestSpanContains(t *testing.T) {
	outer := [4]float64{0, 10, 0, 10}
	assert.True(t, spanContains(outer, [4]float64{2, 8, 2, 8}))
	assert.True(t, spanContains(outer, outer))
	assert.False(t, spanContains(outer, [4]float64{2, 12, 2, 8}))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, ceilDiv(450, 200))
	assert.Equal(t, 1, ceilDiv(200, 200))
	assert.Equal(t, 2, ceilDiv(201, 200))
}
