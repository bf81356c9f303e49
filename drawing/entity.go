package drawing

import (
	"errors"
	"slices"
)

// 3DFACE invisible edge flags.
const (
	EdgeFirst  = 1
	EdgeSecond = 2
	EdgeThird  = 4
	EdgeFourth = 8
)

var errNonFinite = errors.New("non-finite coordinate")

// An Entity is a drawing primitive.
type Entity interface {
	Layer() string
	Clone() Entity
	Validate() error
	vertices() []Vec3
}

// Properties are the properties common to all entities.
type Properties struct {
	LayerName string
	Color     Color
}

func (p Properties) Layer() string { return p.LayerName }

func (p Properties) validate() error {
	if p.LayerName == "" {
		return errors.New("empty layer name")
	}
	return nil
}

// A Point is a single point.
type Point struct {
	Properties
	Location Vec3
}

func (p *Point) Clone() Entity {
	clone := *p
	return &clone
}

func (p *Point) Validate() error {
	if !p.Location.finite() {
		return errNonFinite
	}
	return p.validate()
}

func (p *Point) vertices() []Vec3 { return []Vec3{p.Location} }

// A Line is a single line segment.
type Line struct {
	Properties
	Start Vec3
	End   Vec3
}

func (l *Line) Clone() Entity {
	clone := *l
	return &clone
}

func (l *Line) Validate() error {
	if !l.Start.finite() || !l.End.finite() {
		return errNonFinite
	}
	return l.validate()
}

func (l *Line) vertices() []Vec3 { return []Vec3{l.Start, l.End} }

// A Face is a 3D face with three or four corners. Triangles repeat their
// third vertex as the fourth.
type Face struct {
	Properties
	Vertices       [4]Vec3
	InvisibleEdges int
}

func (f *Face) Clone() Entity {
	clone := *f
	return &clone
}

func (f *Face) Validate() error {
	for _, v := range f.Vertices {
		if !v.finite() {
			return errNonFinite
		}
	}
	if f.InvisibleEdges < 0 || f.InvisibleEdges > EdgeFirst|EdgeSecond|EdgeThird|EdgeFourth {
		return errors.New("invalid edge flags")
	}
	return f.validate()
}

func (f *Face) vertices() []Vec3 { return f.Vertices[:] }

// A Polyline is a sequence of connected vertices. 2D polylines lie in the
// plane Z = Vertices[0].Z.
type Polyline struct {
	Properties
	Vertices []Vec3
	Closed   bool
	ThreeD   bool
}

func (p *Polyline) Clone() Entity {
	clone := *p
	clone.Vertices = slices.Clone(p.Vertices)
	return &clone
}

func (p *Polyline) Validate() error {
	if len(p.Vertices) < 2 {
		return errors.New("polyline has fewer than two vertices")
	}
	for _, v := range p.Vertices {
		if !v.finite() {
			return errNonFinite
		}
	}
	return p.validate()
}

func (p *Polyline) vertices() []Vec3 { return p.Vertices }
