package terrain

import (
	"github.com/twpayne/go-terrain/drawing"
)

// Layer names of emitted drawings.
const (
	LayerPoints     = "3D Points"
	LayerMesh       = "3D Mesh"
	LayerBoundaries = "Boundaries"
	LayerContours   = "Contours"
)

// PointsDrawing returns a drawing with one point entity per point.
func PointsDrawing(points []Point3) *drawing.Drawing {
	d := drawing.New()
	d.AddLayer(drawing.Layer{Name: LayerPoints, Color: drawing.ColorWhite})
	for _, point := range points {
		d.Add(&drawing.Point{
			Properties: drawing.Properties{LayerName: LayerPoints, Color: drawing.ColorByLayer},
			Location:   vec3(point),
		})
	}
	return d
}

// MeshDrawing returns a drawing with one 3D face per mesh triangle. Faces are
// colored by slope bucket and all of their edges are invisible.
func MeshDrawing(mesh *Mesh) *drawing.Drawing {
	d := drawing.New()
	d.AddLayer(drawing.Layer{Name: LayerMesh, Color: drawing.ColorWhite})
	for _, triangle := range mesh.Triangles {
		a := vec3(mesh.Points[triangle.A])
		b := vec3(mesh.Points[triangle.B])
		c := vec3(mesh.Points[triangle.C])
		d.Add(&drawing.Face{
			Properties:     drawing.Properties{LayerName: LayerMesh, Color: drawing.Color(triangle.Bucket)},
			Vertices:       [4]drawing.Vec3{a, b, c, c},
			InvisibleEdges: drawing.EdgeFirst | drawing.EdgeSecond | drawing.EdgeThird,
		})
	}
	return d
}

// ContourDrawing returns a drawing with one 3D polyline per contour line.
func ContourDrawing(set *ContourSet) *drawing.Drawing {
	d := drawing.New()
	d.AddLayer(drawing.Layer{Name: LayerContours, Color: drawing.ColorWhite})
	for _, line := range set.Lines {
		if len(line.Vertices) < 2 {
			continue
		}
		vertices := make([]drawing.Vec3, 0, len(line.Vertices))
		for _, v := range line.Vertices {
			vertices = append(vertices, drawing.Vec3{X: v[0], Y: v[1], Z: v[2]})
		}
		d.Add(&drawing.Polyline{
			Properties: drawing.Properties{LayerName: LayerContours, Color: drawing.ColorByLayer},
			Vertices:   vertices,
			Closed:     line.Closed,
			ThreeD:     true,
		})
	}
	return d
}

// BoundaryDrawing returns a drawing with one closed 2D polyline per ring of
// boundary. Each polyline repeats its first vertex at its end.
func BoundaryDrawing(boundary *Boundary) *drawing.Drawing {
	d := drawing.New()
	d.AddLayer(drawing.Layer{Name: LayerBoundaries, Color: drawing.ColorWhite})
	for _, polygon := range boundary.MultiPolygon() {
		for _, ring := range polygon {
			if len(ring) == 0 {
				continue
			}
			vertices := make([]drawing.Vec3, 0, len(ring)+1)
			for _, point := range ring {
				vertices = append(vertices, drawing.Vec3{X: point[0], Y: point[1]})
			}
			vertices = append(vertices, vertices[0])
			d.Add(&drawing.Polyline{
				Properties: drawing.Properties{LayerName: LayerBoundaries, Color: drawing.ColorByLayer},
				Vertices:   vertices,
				Closed:     true,
			})
		}
	}
	return d
}

func vec3(p Point3) drawing.Vec3 {
	return drawing.Vec3{X: p.X, Y: p.Y, Z: p.Z}
}
