// Package drawing implements a CAD drawing model with DXF R12 encoding and
// decoding, and the reconciliation merge of one drawing into another.
package drawing

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

var (
	ErrMerge = errors.New("merge error")
	ErrParse = errors.New("parse error")
)

// Default resource names.
const (
	DefaultLayer    = "0"
	DefaultLineType = "CONTINUOUS"
	DefaultStyle    = "STANDARD"
)

// A Color is an AutoCAD Color Index.
type Color int

const (
	ColorByBlock Color = 0
	ColorRed     Color = 1
	ColorYellow  Color = 2
	ColorGreen   Color = 3
	ColorCyan    Color = 4
	ColorBlue    Color = 5
	ColorMagenta Color = 6
	ColorWhite   Color = 7
	ColorByLayer Color = 256
)

// A Vec3 is a point in model space.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) finite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// A LineType is a named dash pattern.
type LineType struct {
	Name        string
	Description string
	Pattern     []float64
}

// A Layer is a named group of entities with default display properties.
type Layer struct {
	Name     string
	Color    Color
	LineType string
	Frozen   bool
}

// A Style is a named text style.
type Style struct {
	Name   string
	Font   string
	Height float64
}

// A Block is a named, reusable group of entities.
type Block struct {
	Name     string
	Base     Vec3
	Entities []Entity
}

// A Drawing is a vector drawing. Resource names compare case-insensitively.
type Drawing struct {
	LineTypes []*LineType
	Layers    []*Layer
	Styles    []*Style
	Blocks    []*Block
	Entities  []Entity
}

// New returns a new Drawing with the default layer, line type, and style.
func New() *Drawing {
	return &Drawing{
		LineTypes: []*LineType{{Name: DefaultLineType, Description: "Solid line"}},
		Layers:    []*Layer{{Name: DefaultLayer, Color: ColorWhite, LineType: DefaultLineType}},
		Styles:    []*Style{{Name: DefaultStyle, Font: "txt"}},
	}
}

func findByName[T any](items []*T, name string, nameOf func(*T) string) *T {
	for _, item := range items {
		if strings.EqualFold(nameOf(item), name) {
			return item
		}
	}
	return nil
}

// LineType returns the line type called name, or nil.
func (d *Drawing) LineType(name string) *LineType {
	return findByName(d.LineTypes, name, func(lt *LineType) string { return lt.Name })
}

// Layer returns the layer called name, or nil.
func (d *Drawing) Layer(name string) *Layer {
	return findByName(d.Layers, name, func(l *Layer) string { return l.Name })
}

// Style returns the style called name, or nil.
func (d *Drawing) Style(name string) *Style {
	return findByName(d.Styles, name, func(s *Style) string { return s.Name })
}

// Block returns the block called name, or nil.
func (d *Drawing) Block(name string) *Block {
	return findByName(d.Blocks, name, func(b *Block) string { return b.Name })
}

// AddLayer adds a layer to d if no layer with the same name exists, and
// returns the layer with that name.
func (d *Drawing) AddLayer(layer Layer) *Layer {
	if existing := d.Layer(layer.Name); existing != nil {
		return existing
	}
	if layer.LineType == "" {
		layer.LineType = DefaultLineType
	}
	d.Layers = append(d.Layers, &layer)
	return &layer
}

// Add appends entities to d.
func (d *Drawing) Add(entities ...Entity) {
	d.Entities = append(d.Entities, entities...)
}

// Clone returns a deep copy of d.
func (d *Drawing) Clone() *Drawing {
	clone := &Drawing{
		LineTypes: make([]*LineType, 0, len(d.LineTypes)),
		Layers:    make([]*Layer, 0, len(d.Layers)),
		Styles:    make([]*Style, 0, len(d.Styles)),
		Blocks:    make([]*Block, 0, len(d.Blocks)),
		Entities:  cloneEntities(d.Entities),
	}
	for _, lineType := range d.LineTypes {
		clone.LineTypes = append(clone.LineTypes, lineType.clone())
	}
	for _, layer := range d.Layers {
		layerClone := *layer
		clone.Layers = append(clone.Layers, &layerClone)
	}
	for _, style := range d.Styles {
		styleClone := *style
		clone.Styles = append(clone.Styles, &styleClone)
	}
	for _, block := range d.Blocks {
		clone.Blocks = append(clone.Blocks, block.clone())
	}
	return clone
}

func (lt *LineType) clone() *LineType {
	return &LineType{
		Name:        lt.Name,
		Description: lt.Description,
		Pattern:     slices.Clone(lt.Pattern),
	}
}

func (b *Block) clone() *Block {
	return &Block{
		Name:     b.Name,
		Base:     b.Base,
		Entities: cloneEntities(b.Entities),
	}
}

func cloneEntities(entities []Entity) []Entity {
	clones := make([]Entity, 0, len(entities))
	for _, entity := range entities {
		clones = append(clones, entity.Clone())
	}
	return clones
}

// Validate returns an error if d is not well formed: resource names must be
// non-empty and unique, and every entity must be valid.
func (d *Drawing) Validate() error {
	if err := uniqueNames("line type", d.LineTypes, func(lt *LineType) string { return lt.Name }); err != nil {
		return err
	}
	if err := uniqueNames("layer", d.Layers, func(l *Layer) string { return l.Name }); err != nil {
		return err
	}
	if err := uniqueNames("style", d.Styles, func(s *Style) string { return s.Name }); err != nil {
		return err
	}
	if err := uniqueNames("block", d.Blocks, func(b *Block) string { return b.Name }); err != nil {
		return err
	}
	for _, block := range d.Blocks {
		for i, entity := range block.Entities {
			if err := entity.Validate(); err != nil {
				return fmt.Errorf("block %s: entity %d: %w", block.Name, i, err)
			}
		}
	}
	for i, entity := range d.Entities {
		if err := entity.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}

func uniqueNames[T any](kind string, items []*T, nameOf func(*T) string) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name := nameOf(item)
		if name == "" {
			return fmt.Errorf("%s: empty name", kind)
		}
		key := strings.ToUpper(name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%s %s: duplicate name", kind, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Extents returns the bounding box of d's entities. It returns false if d has
// no entities.
func (d *Drawing) Extents() (Vec3, Vec3, bool) {
	minV := Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxV := Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	ok := false
	for _, entity := range d.Entities {
		for _, v := range entity.vertices() {
			minV = Vec3{X: min(minV.X, v.X), Y: min(minV.Y, v.Y), Z: min(minV.Z, v.Z)}
			maxV = Vec3{X: max(maxV.X, v.X), Y: max(maxV.Y, v.Y), Z: max(maxV.Z, v.Z)}
			ok = true
		}
	}
	if !ok {
		return Vec3{}, Vec3{}, false
	}
	return minV, maxV, true
}

// EntitiesOnLayer returns the number of entities on the layer called name.
func (d *Drawing) EntitiesOnLayer(name string) int {
	n := 0
	for _, entity := range d.Entities {
		if strings.EqualFold(entity.Layer(), name) {
			n++
		}
	}
	return n
}
