package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownOutput = errors.New("unknown output")

// An Output is a kind of product that a request may select.
type Output int

const (
	OutputClippedDEM Output = iota
	OutputContoursShp
	OutputContoursDXF
	OutputPvsystCSV
	OutputPointsDXF
	OutputMeshDXF
)

var outputNames = [...]string{
	OutputClippedDEM:  "clipped_dem",
	OutputContoursShp: "contours_shp",
	OutputContoursDXF: "contours_dxf",
	OutputPvsystCSV:   "pvsyst_csv",
	OutputPointsDXF:   "points_dxf_meters",
	OutputMeshDXF:     "mesh_dxf",
}

// Outputs is every Output in processing order.
var Outputs = []Output{
	OutputClippedDEM,
	OutputContoursShp,
	OutputContoursDXF,
	OutputPvsystCSV,
	OutputPointsDXF,
	OutputMeshDXF,
}

func (o Output) String() string {
	if o < 0 || int(o) >= len(outputNames) {
		return fmt.Sprintf("Output(%d)", int(o))
	}
	return outputNames[o]
}

// ParseOutput returns the Output named s.
func ParseOutput(s string) (Output, error) {
	for _, output := range Outputs {
		if outputNames[output] == s {
			return output, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", s, ErrUnknownOutput)
}

// An OutputSet is a set of Outputs.
type OutputSet uint8

// NewOutputSet returns the set of outputs.
func NewOutputSet(outputs ...Output) OutputSet {
	var s OutputSet
	for _, output := range outputs {
		s |= 1 << output
	}
	return s
}

// ParseOutputSet returns the set of outputs named by names.
func ParseOutputSet(names []string) (OutputSet, error) {
	var s OutputSet
	for _, name := range names {
		output, err := ParseOutput(name)
		if err != nil {
			return 0, err
		}
		s |= 1 << output
	}
	return s, nil
}

// Has returns whether s contains output.
func (s OutputSet) Has(output Output) bool {
	return s&(1<<output) != 0
}

// Outputs returns the members of s in processing order.
func (s OutputSet) Outputs() []Output {
	var outputs []Output
	for _, output := range Outputs {
		if s.Has(output) {
			outputs = append(outputs, output)
		}
	}
	return outputs
}

// Names returns the names of the members of s in processing order.
func (s OutputSet) Names() []string {
	outputs := s.Outputs()
	names := make([]string, 0, len(outputs))
	for _, output := range outputs {
		names = append(names, output.String())
	}
	return names
}

func (s OutputSet) String() string {
	return strings.Join(s.Names(), ",")
}
