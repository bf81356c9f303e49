package drawing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type pair struct {
	code  int
	value string
}

type decoder struct {
	pairs []pair
	pos   int
}

// Decode reads an ASCII DXF drawing. It understands the subset written by
// Encode plus LWPOLYLINE entities. Unknown sections, tables, and entities are
// skipped.
func Decode(r io.Reader) (*Drawing, error) {
	pairs, err := readPairs(r)
	if err != nil {
		return nil, err
	}
	d := &decoder{pairs: pairs}
	drawing, err := d.drawing()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return drawing, nil
}

func readPairs(r io.Reader) ([]pair, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var pairs []pair
	line := 0
	for scanner.Scan() {
		line++
		codeText := strings.TrimSpace(scanner.Text())
		if codeText == "" {
			if !scanner.Scan() {
				break // Trailing blank line.
			}
			return nil, fmt.Errorf("%w: line %d: empty group code", ErrParse, line)
		}
		code, err := strconv.Atoi(codeText)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid group code %q", ErrParse, line, codeText)
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("%w: line %d: missing value", ErrParse, line)
		}
		line++
		pairs = append(pairs, pair{code: code, value: strings.TrimRight(scanner.Text(), "\r")})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return pairs, nil
}

func (d *decoder) peek() (pair, bool) {
	if d.pos >= len(d.pairs) {
		return pair{}, false
	}
	return d.pairs[d.pos], true
}

func (d *decoder) next() (pair, bool) {
	p, ok := d.peek()
	if ok {
		d.pos++
	}
	return p, ok
}

// group returns the pairs up to the next pair with code 0.
func (d *decoder) group() []pair {
	start := d.pos
	for d.pos < len(d.pairs) && d.pairs[d.pos].code != 0 {
		d.pos++
	}
	return d.pairs[start:d.pos]
}

func (d *decoder) drawing() (*Drawing, error) {
	drawing := &Drawing{}
	for {
		p, ok := d.next()
		switch {
		case !ok:
			if len(d.pairs) == 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return drawing, nil
		case p.code == 0 && p.value == "EOF":
			return drawing, nil
		case p.code == 0 && p.value == "SECTION":
		default:
			return nil, fmt.Errorf("unexpected %d/%s outside section", p.code, p.value)
		}

		header := d.group()
		name := ""
		for _, p := range header {
			if p.code == 2 {
				name = p.value
			}
		}
		var err error
		switch name {
		case "TABLES":
			err = d.tables(drawing)
		case "BLOCKS":
			err = d.blocks(drawing)
		case "ENTITIES":
			drawing.Entities, err = d.entities("ENDSEC")
		default:
			err = d.skipSection()
		}
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
	}
}

func (d *decoder) skipSection() error {
	for {
		p, ok := d.next()
		switch {
		case !ok:
			return io.ErrUnexpectedEOF
		case p.code == 0 && p.value == "ENDSEC":
			return nil
		}
	}
}

func (d *decoder) tables(drawing *Drawing) error {
	for {
		p, ok := d.next()
		switch {
		case !ok:
			return io.ErrUnexpectedEOF
		case p.code != 0:
			continue
		case p.value == "ENDSEC":
			return nil
		case p.value == "TABLE", p.value == "ENDTAB":
			d.group()
			continue
		}

		attrs := attributes(d.group())
		switch p.value {
		case "LTYPE":
			lineType := &LineType{
				Name:        attrs.stringValue(2),
				Description: attrs.stringValue(3),
			}
			for _, value := range attrs.all(49) {
				dash, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
				if err != nil {
					return fmt.Errorf("LTYPE %s: %w", lineType.Name, err)
				}
				lineType.Pattern = append(lineType.Pattern, dash)
			}
			drawing.LineTypes = append(drawing.LineTypes, lineType)
		case "LAYER":
			color, err := attrs.intValue(62, int(ColorWhite))
			if err != nil {
				return fmt.Errorf("LAYER: %w", err)
			}
			flags, err := attrs.intValue(70, 0)
			if err != nil {
				return fmt.Errorf("LAYER: %w", err)
			}
			// A negative color means that the layer is off.
			drawing.Layers = append(drawing.Layers, &Layer{
				Name:     attrs.stringValue(2),
				Color:    Color(max(color, -color)),
				LineType: attrs.stringValue(6),
				Frozen:   flags&1 != 0,
			})
		case "STYLE":
			height, err := attrs.floatValue(40)
			if err != nil {
				return fmt.Errorf("STYLE: %w", err)
			}
			drawing.Styles = append(drawing.Styles, &Style{
				Name:   attrs.stringValue(2),
				Font:   attrs.stringValue(3),
				Height: height,
			})
		}
	}
}

func (d *decoder) blocks(drawing *Drawing) error {
	for {
		p, ok := d.next()
		switch {
		case !ok:
			return io.ErrUnexpectedEOF
		case p.code != 0:
			continue
		case p.value == "ENDSEC":
			return nil
		case p.value != "BLOCK":
			d.group()
			continue
		}

		attrs := attributes(d.group())
		base, err := attrs.vec3Value(10)
		if err != nil {
			return err
		}
		block := &Block{
			Name: attrs.stringValue(2),
			Base: base,
		}
		if block.Entities, err = d.entities("ENDBLK"); err != nil {
			return fmt.Errorf("BLOCK %s: %w", block.Name, err)
		}
		d.group()
		drawing.Blocks = append(drawing.Blocks, block)
	}
}

// entities decodes entities up to and including the pair 0/end.
func (d *decoder) entities(end string) ([]Entity, error) {
	var entities []Entity
	for {
		p, ok := d.next()
		switch {
		case !ok:
			return nil, io.ErrUnexpectedEOF
		case p.code != 0:
			return nil, fmt.Errorf("unexpected group code %d", p.code)
		case p.value == end:
			return entities, nil
		}

		attrs := attributes(d.group())
		properties, err := attrs.properties()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.value, err)
		}
		var entity Entity
		switch p.value {
		case "POINT":
			location, err := attrs.vec3Value(10)
			if err != nil {
				return nil, fmt.Errorf("POINT: %w", err)
			}
			entity = &Point{Properties: properties, Location: location}
		case "LINE":
			start, err := attrs.vec3Value(10)
			if err != nil {
				return nil, fmt.Errorf("LINE: %w", err)
			}
			endPoint, err := attrs.vec3Value(11)
			if err != nil {
				return nil, fmt.Errorf("LINE: %w", err)
			}
			entity = &Line{Properties: properties, Start: start, End: endPoint}
		case "3DFACE":
			face := &Face{Properties: properties}
			for i := range face.Vertices {
				if face.Vertices[i], err = attrs.vec3Value(10 + i); err != nil {
					return nil, fmt.Errorf("3DFACE: %w", err)
				}
			}
			if face.InvisibleEdges, err = attrs.intValue(70, 0); err != nil {
				return nil, fmt.Errorf("3DFACE: %w", err)
			}
			entity = face
		case "POLYLINE":
			if entity, err = d.polyline(properties, attrs); err != nil {
				return nil, fmt.Errorf("POLYLINE: %w", err)
			}
		case "LWPOLYLINE":
			if entity, err = lwPolyline(properties, attrs); err != nil {
				return nil, fmt.Errorf("LWPOLYLINE: %w", err)
			}
		default:
			continue
		}
		entities = append(entities, entity)
	}
}

func (d *decoder) polyline(properties Properties, attrs attributes) (*Polyline, error) {
	flags, err := attrs.intValue(70, 0)
	if err != nil {
		return nil, err
	}
	origin, err := attrs.vec3Value(10)
	if err != nil {
		return nil, err
	}
	polyline := &Polyline{
		Properties: properties,
		Closed:     flags&polylineClosed != 0,
		ThreeD:     flags&polyline3D != 0,
	}
	for {
		p, ok := d.next()
		switch {
		case !ok:
			return nil, io.ErrUnexpectedEOF
		case p.code != 0:
			return nil, fmt.Errorf("unexpected group code %d", p.code)
		case p.value == "SEQEND":
			d.group()
			return polyline, nil
		case p.value != "VERTEX":
			return nil, fmt.Errorf("unexpected %s", p.value)
		}
		vertexAttrs := attributes(d.group())
		v, err := vertexAttrs.vec3Value(10)
		if err != nil {
			return nil, fmt.Errorf("VERTEX: %w", err)
		}
		if !polyline.ThreeD {
			v.Z = origin.Z
		}
		polyline.Vertices = append(polyline.Vertices, v)
	}
}

func lwPolyline(properties Properties, attrs attributes) (*Polyline, error) {
	flags, err := attrs.intValue(70, 0)
	if err != nil {
		return nil, err
	}
	elevation, err := attrs.floatValue(38)
	if err != nil {
		return nil, err
	}
	xs, ys := attrs.all(10), attrs.all(20)
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%d x and %d y coordinates", len(xs), len(ys))
	}
	polyline := &Polyline{
		Properties: properties,
		Vertices:   make([]Vec3, 0, len(xs)),
		Closed:     flags&polylineClosed != 0,
	}
	for i := range xs {
		x, err := strconv.ParseFloat(strings.TrimSpace(xs[i]), 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys[i]), 64)
		if err != nil {
			return nil, err
		}
		polyline.Vertices = append(polyline.Vertices, Vec3{X: x, Y: y, Z: elevation})
	}
	return polyline, nil
}

type attributes []pair

func (a attributes) lookup(code int) (string, bool) {
	for _, p := range a {
		if p.code == code {
			return p.value, true
		}
	}
	return "", false
}

func (a attributes) all(code int) []string {
	var values []string
	for _, p := range a {
		if p.code == code {
			values = append(values, p.value)
		}
	}
	return values
}

func (a attributes) stringValue(code int) string {
	value, _ := a.lookup(code)
	return strings.TrimSpace(value)
}

func (a attributes) intValue(code, defaultValue int) (int, error) {
	value, ok := a.lookup(code)
	if !ok {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("group %d: %w", code, err)
	}
	return i, nil
}

func (a attributes) floatValue(code int) (float64, error) {
	value, ok := a.lookup(code)
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("group %d: %w", code, err)
	}
	return f, nil
}

func (a attributes) vec3Value(code int) (Vec3, error) {
	var v Vec3
	var err error
	if v.X, err = a.floatValue(code); err != nil {
		return Vec3{}, err
	}
	if v.Y, err = a.floatValue(code + 10); err != nil {
		return Vec3{}, err
	}
	if v.Z, err = a.floatValue(code + 20); err != nil {
		return Vec3{}, err
	}
	return v, nil
}

func (a attributes) properties() (Properties, error) {
	color, err := a.intValue(62, int(ColorByLayer))
	if err != nil {
		return Properties{}, err
	}
	layerName := a.stringValue(8)
	if layerName == "" {
		layerName = DefaultLayer
	}
	return Properties{LayerName: layerName, Color: Color(color)}, nil
}
