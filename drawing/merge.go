package drawing

import (
	"bytes"
	"fmt"
	"strings"
)

// MergeStats counts what a merge imported and what it kept.
type MergeStats struct {
	LineTypesImported int
	LayersImported    int
	StylesImported    int
	BlocksImported    int
	EntitiesImported  int
	LayersCreated     int
	LineTypesCreated  int
	Collisions        int
}

// Merge imports source's resources and entities into target. Resources that
// already exist in target are kept unchanged and only missing ones are
// imported. Every source entity is appended. Layers and line types that are
// referenced but defined in neither drawing are created with default
// attributes. If the merge fails then target is left unchanged.
func Merge(target, source *Drawing) (MergeStats, error) {
	var stats MergeStats
	if target == nil || source == nil {
		return stats, fmt.Errorf("%w: nil drawing", ErrMerge)
	}
	if err := target.Validate(); err != nil {
		return stats, fmt.Errorf("%w: target: %w", ErrMerge, err)
	}
	if err := source.Validate(); err != nil {
		return stats, fmt.Errorf("%w: source: %w", ErrMerge, err)
	}

	staged := target.Clone()

	for _, lineType := range source.LineTypes {
		if staged.LineType(lineType.Name) != nil {
			stats.Collisions++
			continue
		}
		staged.LineTypes = append(staged.LineTypes, lineType.clone())
		stats.LineTypesImported++
	}

	for _, layer := range source.Layers {
		if staged.Layer(layer.Name) != nil {
			stats.Collisions++
			continue
		}
		staged.ensureLineType(layer.LineType, &stats)
		layerClone := *layer
		staged.Layers = append(staged.Layers, &layerClone)
		stats.LayersImported++
	}

	for _, style := range source.Styles {
		if staged.Style(style.Name) != nil {
			stats.Collisions++
			continue
		}
		styleClone := *style
		staged.Styles = append(staged.Styles, &styleClone)
		stats.StylesImported++
	}

	for _, block := range source.Blocks {
		if staged.Block(block.Name) != nil {
			stats.Collisions++
			continue
		}
		for _, entity := range block.Entities {
			staged.ensureLayer(entity.Layer(), &stats)
		}
		staged.Blocks = append(staged.Blocks, block.clone())
		stats.BlocksImported++
	}

	for _, entity := range source.Entities {
		staged.ensureLayer(entity.Layer(), &stats)
		staged.Entities = append(staged.Entities, entity.Clone())
		stats.EntitiesImported++
	}

	*target = *staged
	return stats, nil
}

// MergeDXF merges the DXF drawing source into the DXF drawing target and
// returns the encoded result.
func MergeDXF(target, source []byte) ([]byte, error) {
	targetDrawing, err := Decode(bytes.NewReader(target))
	if err != nil {
		return nil, fmt.Errorf("%w: target: %w", ErrMerge, err)
	}
	sourceDrawing, err := Decode(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrMerge, err)
	}
	if _, err := Merge(targetDrawing, sourceDrawing); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := targetDrawing.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ensureLayer adds a default layer called name to d if d has no such layer.
func (d *Drawing) ensureLayer(name string, stats *MergeStats) {
	if d.Layer(name) != nil {
		return
	}
	d.ensureLineType(DefaultLineType, stats)
	d.Layers = append(d.Layers, &Layer{Name: name, Color: ColorWhite, LineType: DefaultLineType})
	stats.LayersCreated++
}

// ensureLineType adds a solid line type called name to d if d has no such
// line type. BYLAYER and BYBLOCK are not table entries.
func (d *Drawing) ensureLineType(name string, stats *MergeStats) {
	if byReference(name) || d.LineType(name) != nil {
		return
	}
	description := ""
	if strings.EqualFold(name, DefaultLineType) {
		name, description = DefaultLineType, "Solid line"
	}
	d.LineTypes = append(d.LineTypes, &LineType{Name: name, Description: description})
	stats.LineTypesCreated++
}

func byReference(name string) bool {
	switch strings.ToUpper(name) {
	case "", "BYLAYER", "BYBLOCK":
		return true
	default:
		return false
	}
}
