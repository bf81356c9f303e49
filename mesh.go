package terrain

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"
)

// A Triangle is a mesh face. A, B, and C index the mesh's points.
type Triangle struct {
	A, B, C int
	Slope   float64 // Degrees.
	Bucket  int
}

// A Mesh is a triangulated irregular network.
type Mesh struct {
	Points    []Point3
	Triangles []Triangle
}

// Triangulate returns the 2D Delaunay triangulation of points' X and Y
// coordinates, with each triangle's slope and slope bucket computed from its
// 3D vertices.
func Triangulate(points []Point3) (*Mesh, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: %d points", ErrTriangulation, len(points))
	}

	delaunayPoints := make([]delaunay.Point, 0, len(points))
	for _, point := range points {
		delaunayPoints = append(delaunayPoints, delaunay.Point{X: point.X, Y: point.Y})
	}
	triangulation, err := delaunay.Triangulate(delaunayPoints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTriangulation, err)
	}
	if len(triangulation.Triangles) == 0 {
		return nil, fmt.Errorf("%w: no triangles", ErrTriangulation)
	}

	mesh := &Mesh{
		Points:    points,
		Triangles: make([]Triangle, 0, len(triangulation.Triangles)/3),
	}
	for i := 0; i+2 < len(triangulation.Triangles); i += 3 {
		a, b, c := triangulation.Triangles[i], triangulation.Triangles[i+1], triangulation.Triangles[i+2]
		slope := Slope(points[a], points[b], points[c])
		mesh.Triangles = append(mesh.Triangles, Triangle{
			A:      a,
			B:      b,
			C:      c,
			Slope:  slope,
			Bucket: SlopeBucket(slope),
		})
	}
	return mesh, nil
}

// Slope returns the slope in degrees of the facet p1, p2, p3, measured as the
// angle whose tangent is the facet's height over edge p1-p2 divided by that
// edge's length. It is not invariant under reordering of the vertices. The
// result is rounded to a nanodegree so that facets exactly on a bucket
// threshold classify consistently.
func Slope(p1, p2, p3 Point3) float64 {
	a := distance3(p1, p2)
	b := distance3(p2, p3)
	c := distance3(p3, p1)
	if a == 0 {
		return 0
	}
	s := (a + b + c) / 2
	area := math.Sqrt(max(s*(s-a)*(s-b)*(s-c), 0))
	height := 2 * area / a
	degrees := math.Atan(height/a) * 180 / math.Pi
	return math.Round(degrees*nanodegreesPerDegree) / nanodegreesPerDegree
}

const nanodegreesPerDegree = 1e9

// SlopeBucket returns the classification bucket of slope, from 1 for slopes
// over 30 degrees to 7 for slopes of 5 degrees or less.
func SlopeBucket(slope float64) int {
	switch {
	case slope > 30:
		return 1
	case slope > 25:
		return 2
	case slope > 20:
		return 3
	case slope > 15:
		return 4
	case slope > 10:
		return 5
	case slope > 5:
		return 6
	default:
		return 7
	}
}

func distance3(p, q Point3) float64 {
	dx, dy, dz := q.X-p.X, q.Y-p.Y, q.Z-p.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
