package store

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// intersectsBound reports whether g shares at least one point with b. The
// stored bounding boxes only prefilter; this is the exact test.
func intersectsBound(g orb.Geometry, b orb.Bound) bool {
	if g == nil || !g.Bound().Intersects(b) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return b.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if b.Contains(p) {
				return true
			}
		}
		return false
	case orb.LineString:
		return pathIntersects(g, b)
	case orb.MultiLineString:
		for _, ls := range g {
			if pathIntersects(ls, b) {
				return true
			}
		}
		return false
	case orb.Ring:
		return polygonIntersects(orb.Polygon{g}, b)
	case orb.Polygon:
		return polygonIntersects(g, b)
	case orb.MultiPolygon:
		for _, poly := range g {
			if polygonIntersects(poly, b) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, c := range g {
			if intersectsBound(c, b) {
				return true
			}
		}
		return false
	}
	return true
}

func polygonIntersects(poly orb.Polygon, b orb.Bound) bool {
	if len(poly) == 0 || !poly.Bound().Intersects(b) {
		return false
	}
	for _, ring := range poly {
		if pathIntersects(orb.LineString(ring), b) {
			return true
		}
	}
	// No edge touches the box, so the box is either wholly inside or
	// wholly outside the polygon.
	return planar.PolygonContains(poly, b.Center())
}

// pathIntersects reports whether any vertex or segment of path touches b.
func pathIntersects(path orb.LineString, b orb.Bound) bool {
	if len(path) == 1 {
		return b.Contains(path[0])
	}
	for i := 0; i+1 < len(path); i++ {
		if segmentIntersects(path[i], path[i+1], b) {
			return true
		}
	}
	return false
}

func segmentIntersects(p, q orb.Point, b orb.Bound) bool {
	if b.Contains(p) || b.Contains(q) {
		return true
	}
	if !orb.MultiPoint{p, q}.Bound().Intersects(b) {
		return false
	}
	c := [4]orb.Point{b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]}}
	for i := range c {
		if segmentsCross(p, q, c[i], c[(i+1)%4]) {
			return true
		}
	}
	return false
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

// segmentsCross reports whether segments ab and cd share a point.
func segmentsCross(a, b, c, d orb.Point) bool {
	d1, d2 := orient(c, d, a), orient(c, d, b)
	d3, d4 := orient(a, b, c), orient(a, b, d)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(c, d, a):
		return true
	case d2 == 0 && onSegment(c, d, b):
		return true
	case d3 == 0 && onSegment(a, b, c):
		return true
	case d4 == 0 && onSegment(a, b, d):
		return true
	}
	return false
}
