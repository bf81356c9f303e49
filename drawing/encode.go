package drawing

import (
	"bufio"
	"io"
	"math"
	"strconv"
)

// DXF R12 polyline flags.
const (
	polylineClosed   = 1
	polyline3D       = 8
	vertex3DPolyline = 32
)

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) pair(code int, value string) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.WriteString(strconv.Itoa(code) + "\n" + value + "\n")
}

func (e *encoder) int(code, value int) {
	e.pair(code, strconv.Itoa(value))
}

func (e *encoder) float(code int, value float64) {
	e.pair(code, strconv.FormatFloat(value, 'f', -1, 64))
}

func (e *encoder) vec3(code int, v Vec3) {
	e.float(code, v.X)
	e.float(code+10, v.Y)
	e.float(code+20, v.Z)
}

// Encode writes d to w as an ASCII DXF R12 file.
func (d *Drawing) Encode(w io.Writer) error {
	e := &encoder{w: bufio.NewWriter(w)}

	e.pair(0, "SECTION")
	e.pair(2, "HEADER")
	e.pair(9, "$ACADVER")
	e.pair(1, "AC1009")
	extMin, extMax, ok := d.Extents()
	if ok {
		e.pair(9, "$EXTMIN")
		e.vec3(10, extMin)
		e.pair(9, "$EXTMAX")
		e.vec3(10, extMax)
	}
	e.pair(0, "ENDSEC")

	e.pair(0, "SECTION")
	e.pair(2, "TABLES")
	e.pair(0, "TABLE")
	e.pair(2, "LTYPE")
	e.int(70, len(d.LineTypes))
	for _, lineType := range d.LineTypes {
		e.pair(0, "LTYPE")
		e.pair(2, lineType.Name)
		e.int(70, 0)
		e.pair(3, lineType.Description)
		e.int(72, 65)
		e.int(73, len(lineType.Pattern))
		total := 0.0
		for _, dash := range lineType.Pattern {
			total += math.Abs(dash)
		}
		e.float(40, total)
		for _, dash := range lineType.Pattern {
			e.float(49, dash)
		}
	}
	e.pair(0, "ENDTAB")
	e.pair(0, "TABLE")
	e.pair(2, "LAYER")
	e.int(70, len(d.Layers))
	for _, layer := range d.Layers {
		e.pair(0, "LAYER")
		e.pair(2, layer.Name)
		flags := 0
		if layer.Frozen {
			flags |= 1
		}
		e.int(70, flags)
		e.int(62, int(layer.Color))
		lineType := layer.LineType
		if lineType == "" {
			lineType = DefaultLineType
		}
		e.pair(6, lineType)
	}
	e.pair(0, "ENDTAB")
	e.pair(0, "TABLE")
	e.pair(2, "STYLE")
	e.int(70, len(d.Styles))
	for _, style := range d.Styles {
		e.pair(0, "STYLE")
		e.pair(2, style.Name)
		e.int(70, 0)
		e.float(40, style.Height)
		e.float(41, 1)
		e.float(50, 0)
		e.int(71, 0)
		e.float(42, 2.5)
		e.pair(3, style.Font)
		e.pair(4, "")
	}
	e.pair(0, "ENDTAB")
	e.pair(0, "ENDSEC")

	e.pair(0, "SECTION")
	e.pair(2, "BLOCKS")
	for _, block := range d.Blocks {
		e.pair(0, "BLOCK")
		e.pair(8, DefaultLayer)
		e.pair(2, block.Name)
		e.int(70, 0)
		e.vec3(10, block.Base)
		e.pair(3, block.Name)
		for _, entity := range block.Entities {
			e.entity(entity)
		}
		e.pair(0, "ENDBLK")
		e.pair(8, DefaultLayer)
	}
	e.pair(0, "ENDSEC")

	e.pair(0, "SECTION")
	e.pair(2, "ENTITIES")
	for _, entity := range d.Entities {
		e.entity(entity)
	}
	e.pair(0, "ENDSEC")
	e.pair(0, "EOF")

	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

func (e *encoder) properties(p Properties) {
	e.pair(8, p.LayerName)
	if p.Color != ColorByLayer {
		e.int(62, int(p.Color))
	}
}

func (e *encoder) entity(entity Entity) {
	switch entity := entity.(type) {
	case *Point:
		e.pair(0, "POINT")
		e.properties(entity.Properties)
		e.vec3(10, entity.Location)
	case *Line:
		e.pair(0, "LINE")
		e.properties(entity.Properties)
		e.vec3(10, entity.Start)
		e.vec3(11, entity.End)
	case *Face:
		e.pair(0, "3DFACE")
		e.properties(entity.Properties)
		for i, v := range entity.Vertices {
			e.vec3(10+i, v)
		}
		e.int(70, entity.InvisibleEdges)
	case *Polyline:
		e.pair(0, "POLYLINE")
		e.properties(entity.Properties)
		e.int(66, 1)
		elevation := 0.0
		if !entity.ThreeD && len(entity.Vertices) > 0 {
			elevation = entity.Vertices[0].Z
		}
		e.vec3(10, Vec3{Z: elevation})
		flags := 0
		if entity.Closed {
			flags |= polylineClosed
		}
		if entity.ThreeD {
			flags |= polyline3D
		}
		e.int(70, flags)
		for _, v := range entity.Vertices {
			e.pair(0, "VERTEX")
			e.properties(entity.Properties)
			if entity.ThreeD {
				e.vec3(10, v)
				e.int(70, vertex3DPolyline)
			} else {
				e.vec3(10, Vec3{X: v.X, Y: v.Y})
			}
		}
		e.pair(0, "SEQEND")
		e.pair(8, entity.LayerName)
	}
}
