package wfsai

import "fmt"

func PointsToWkt(lon1, lon2, lat1, lat2 float64) string {
	return fmt.Sprintf("POLYGON((%[1]f %[3]f, %[1]f %[4]f, %[2]f %[4]f, %[2]f %[3]f, %[1]f %[3]f))", lon1, lon2, lat1, lat2)
}

func SpanToWkt(span [4]float64) string {
	return PointsToWkt(span[0], span[1], span[2], span[3])
}

// spansOverlap reports whether two [minX, maxX, minY, maxY] envelopes in a
// common reference share any area.
func spansOverlap(a, b [4]float64) bool {
	return a[0] < b[1] && b[0] < a[1] && a[2] < b[3] && b[2] < a[3]
}

// spanContains reports whether envelope outer fully contains inner.
func spanContains(outer, inner [4]float64) bool {
	return outer[0] <= inner[0] && outer[1] >= inner[1] &&
		outer[2] <= inner[2] && outer[3] >= inner[3]
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
