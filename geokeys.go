package terrain

import (
	"errors"
	"slices"
)

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeogCitation  GeoKey = 2049
	GeoKeyGeodeticDatum GeoKey = 2050
	GeoKeyAngularUnits  GeoKey = 2054

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyProjection   GeoKey = 3074
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyVertical      GeoKey = 4096
	GeoKeyVerticalUnits GeoKey = 4099
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterTypePixelArea = 1
	userDefined         = 32767
)

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = int(keyValues[3])
		case 34736: // GeoDoubleParamsTag
			index := int(keyValues[3])
			if numberOfValues != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case 34737: // GeoASCIIParamsTag
			index := int(keyValues[3])
			if index+numberOfValues > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// EPSG returns the EPSG code of the model CRS and whether it is geographic. It
// returns 0 if the CRS is missing or user-defined.
func (k *ParsedGeoKeys) EPSG() (int, bool) {
	geographic := k.Params[GeoKeyGTModelType] == modelTypeGeographic
	if code := k.Params[GeoKeyProjectedCRS]; !geographic && code != 0 && code != userDefined {
		return code, false
	}
	if code := k.Params[GeoKeyGeodeticCRS]; code != 0 && code != userDefined {
		return code, true
	}
	return 0, geographic
}

// geoKeyDirectory returns the GeoKeyDirectoryTag for a raster in the CRS
// identified by epsg.
func geoKeyDirectory(epsg int, geographic bool) []uint16 {
	params := map[GeoKey]int{
		GeoKeyGTRasterType: rasterTypePixelArea,
	}
	switch {
	case geographic:
		params[GeoKeyGTModelType] = modelTypeGeographic
		params[GeoKeyGeodeticCRS] = epsg
	default:
		params[GeoKeyGTModelType] = modelTypeProjected
		params[GeoKeyProjectedCRS] = epsg
	}
	if epsg == 0 {
		delete(params, GeoKeyGeodeticCRS)
		delete(params, GeoKeyProjectedCRS)
	}
	keys := make([]GeoKey, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	directory := []uint16{1, 1, 0, uint16(len(keys))}
	for _, key := range keys {
		directory = append(directory, uint16(key), 0, 1, uint16(params[key]))
	}
	return directory
}
