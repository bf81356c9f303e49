package terrain

import "errors"

// Stage errors. Callers match them with errors.Is.
var (
	ErrClip          = errors.New("clip error")
	ErrContour       = errors.New("contour error")
	ErrConversion    = errors.New("conversion error")
	ErrSampling      = errors.New("sampling error")
	ErrTriangulation = errors.New("triangulation error")
)

var (
	errParse     = errors.New("parse error")
	errShortRead = errors.New("short read")
)
