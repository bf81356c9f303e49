package drawing

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestMergeIntoEmpty(t *testing.T) {
	source := newTestDrawing()
	target := New()

	stats, err := Merge(target, source)
	assert.NoError(t, err)
	assert.Equal(t, source.Entities, target.Entities)
	assert.Equal(t, len(source.Entities), stats.EntitiesImported)
	assert.Equal(t, 1, stats.LineTypesImported)
	assert.Equal(t, 2, stats.LayersImported)
	assert.Equal(t, 1, stats.StylesImported)
	assert.Equal(t, 1, stats.BlocksImported)
	// CONTINUOUS, 0, and STANDARD already exist.
	assert.Equal(t, 3, stats.Collisions)
}

func TestMergeNonDestructive(t *testing.T) {
	target := New()
	target.AddLayer(Layer{Name: "Boundaries", Color: ColorRed})
	target.Add(
		&Polyline{
			Properties: Properties{LayerName: "Boundaries", Color: ColorByLayer},
			Vertices:   []Vec3{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}},
			Closed:     true,
		},
	)
	before := target.Clone()

	source := New()
	source.AddLayer(Layer{Name: "3D Points", Color: ColorByLayer - 1})
	for i := range 5 {
		source.Add(&Point{Properties: Properties{LayerName: "3D Points", Color: ColorByLayer}, Location: Vec3{X: float64(i)}})
	}

	_, err := Merge(target, source)
	assert.NoError(t, err)
	assert.Equal(t, len(before.Entities)+len(source.Entities), len(target.Entities))
	assert.Equal(t, before.Entities, target.Entities[:len(before.Entities)])
	assert.Equal(t, 5, target.EntitiesOnLayer("3d points"))

	// Source entities are copied, not shared.
	source.Entities[0].(*Point).Location.X = 100
	assert.Equal(t, 0.0, target.Entities[1].(*Point).Location.X)
}

func TestMergeCollisionPrecedence(t *testing.T) {
	target := New()
	target.AddLayer(Layer{Name: "Contours", Color: ColorBlue})
	target.Styles = append(target.Styles, &Style{Name: "Labels", Font: "target.shx"})

	source := New()
	source.Layers[0].Color = ColorRed
	source.AddLayer(Layer{Name: "CONTOURS", Color: ColorGreen})
	source.Styles = append(source.Styles, &Style{Name: "LABELS", Font: "source.shx"})
	source.Add(&Line{Properties: Properties{LayerName: "CONTOURS", Color: ColorByLayer}, End: Vec3{X: 1}})

	stats, err := Merge(target, source)
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.LayersImported)
	assert.Equal(t, 0, stats.StylesImported)
	assert.Equal(t, 2, len(target.Layers))
	assert.Equal(t, ColorWhite, target.Layer("0").Color)
	assert.Equal(t, ColorBlue, target.Layer("contours").Color)
	assert.Equal(t, "target.shx", target.Style("labels").Font)
	assert.Equal(t, 1, len(target.Entities))
}

func TestMergeFailureLeavesTargetUnchanged(t *testing.T) {
	for _, tc := range []struct {
		name   string
		source func() *Drawing
	}{
		{
			name: "empty_layer_name",
			source: func() *Drawing {
				source := New()
				source.AddLayer(Layer{Name: "A"})
				source.Add(
					&Point{Properties: Properties{LayerName: "A", Color: ColorByLayer}},
					&Point{Properties: Properties{Color: ColorByLayer}},
				)
				return source
			},
		},
		{
			name: "invalid_entity",
			source: func() *Drawing {
				source := New()
				source.Add(&Polyline{Properties: Properties{LayerName: "0", Color: ColorByLayer}, Vertices: []Vec3{{}}})
				return source
			},
		},
		{
			name: "duplicate_layer",
			source: func() *Drawing {
				source := New()
				source.Layers = append(source.Layers, &Layer{Name: "a"}, &Layer{Name: "A"})
				return source
			},
		},
		{
			name:   "nil",
			source: func() *Drawing { return nil },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			target := newTestDrawing()
			before := target.Clone()
			_, err := Merge(target, tc.source())
			assert.IsError(t, err, ErrMerge)
			assert.Equal(t, before, target)
		})
	}
}

func TestMergeUndefinedResources(t *testing.T) {
	dxf := strings.Join([]string{
		"  0", "SECTION",
		"  2", "ENTITIES",
		"  0", "POINT",
		"  8", "WALLS",
		" 10", "1.0", " 20", "2.0", " 30", "3.0",
		"  0", "ENDSEC",
		"  0", "EOF",
	}, "\r\n") + "\r\n"

	for _, tc := range []struct {
		name                     string
		target                   func() *Drawing
		expectedLayers           int
		expectedLineTypesCreated int
	}{
		{
			name:           "new",
			target:         New,
			expectedLayers: 2,
		},
		{
			name:                     "zero",
			target:                   func() *Drawing { return &Drawing{} },
			expectedLayers:           1,
			expectedLineTypesCreated: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			source, err := Decode(strings.NewReader(dxf))
			assert.NoError(t, err)
			assert.Equal(t, 0, len(source.Layers))

			target := tc.target()
			stats, err := Merge(target, source)
			assert.NoError(t, err)
			assert.Equal(t, source.Entities, target.Entities)
			assert.Equal(t, 1, stats.EntitiesImported)
			assert.Equal(t, 1, stats.LayersCreated)
			assert.Equal(t, tc.expectedLineTypesCreated, stats.LineTypesCreated)
			assert.Equal(t, tc.expectedLayers, len(target.Layers))
			assert.Equal(t, &Layer{Name: "WALLS", Color: ColorWhite, LineType: DefaultLineType}, target.Layer("walls"))
			assert.True(t, target.LineType(DefaultLineType) != nil)
			assert.NoError(t, target.Validate())

			var buf bytes.Buffer
			assert.NoError(t, target.Encode(&buf))
			d, err := Decode(&buf)
			assert.NoError(t, err)
			assert.Equal(t, 1, d.EntitiesOnLayer("WALLS"))
		})
	}

	t.Run("line_type", func(t *testing.T) {
		source := New()
		source.Layers = append(source.Layers, &Layer{Name: "Dots", LineType: "DOTTED"})
		source.Add(&Point{Properties: Properties{LayerName: "Dots", Color: ColorByLayer}})
		target := New()
		stats, err := Merge(target, source)
		assert.NoError(t, err)
		assert.Equal(t, 1, stats.LineTypesCreated)
		assert.Equal(t, 0, stats.LayersCreated)
		assert.Equal(t, "DOTTED", target.LineType("dotted").Name)
		assert.Equal(t, 1, target.EntitiesOnLayer("Dots"))
	})
}

func TestMergeSequential(t *testing.T) {
	target := New()
	first := New()
	first.AddLayer(Layer{Name: "First"})
	first.Add(&Point{Properties: Properties{LayerName: "First", Color: ColorByLayer}})
	_, err := Merge(target, first)
	assert.NoError(t, err)
	afterFirst := target.Clone()

	bad := New()
	bad.Add(&Line{Properties: Properties{LayerName: "0", Color: ColorByLayer}, End: Vec3{X: math.NaN()}})
	_, err = Merge(target, bad)
	assert.IsError(t, err, ErrMerge)
	assert.Equal(t, afterFirst, target)
}

func TestMergeDXF(t *testing.T) {
	var targetBuf, sourceBuf bytes.Buffer
	target := New()
	target.AddLayer(Layer{Name: "Boundaries", Color: ColorRed})
	target.Add(&Polyline{
		Properties: Properties{LayerName: "Boundaries", Color: ColorByLayer},
		Vertices:   []Vec3{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}},
		Closed:     true,
	})
	assert.NoError(t, target.Encode(&targetBuf))
	source := newTestDrawing()
	assert.NoError(t, source.Encode(&sourceBuf))

	merged, err := MergeDXF(targetBuf.Bytes(), sourceBuf.Bytes())
	assert.NoError(t, err)
	d, err := Decode(bytes.NewReader(merged))
	assert.NoError(t, err)
	assert.Equal(t, 1+len(source.Entities), len(d.Entities))
	assert.Equal(t, ColorRed, d.Layer("Boundaries").Color)
	assert.True(t, d.Layer("3D Mesh") != nil)

	_, err = MergeDXF([]byte("garbage"), sourceBuf.Bytes())
	assert.IsError(t, err, ErrMerge)
	_, err = MergeDXF(targetBuf.Bytes(), nil)
	assert.IsError(t, err, ErrMerge)
}
