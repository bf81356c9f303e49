package terrain

import (
	"strconv"
)

const (
	esriGCSWGS84  = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	esriGCSETRS89 = `GEOGCS["GCS_ETRS_1989",DATUM["D_ETRS_1989",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
)

// ESRIWKT returns the ESRI well-known text of the CRS with EPSG code epsg, as
// written to shapefile .prj files. Geographic WGS 84, Web Mercator, ETRS89
// LAEA, and the WGS 84 and ETRS89 UTM zones are supported. It returns false if
// epsg is not supported.
func ESRIWKT(epsg int) (string, bool) {
	switch {
	case epsg == 4326:
		return esriGCSWGS84, true
	case epsg == 3857:
		return `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",` + esriGCSWGS84 +
			`,PROJECTION["Mercator_Auxiliary_Sphere"],` +
			`PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],` +
			`PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],` +
			`PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`, true
	case epsg == 3035:
		return `PROJCS["ETRS_1989_LAEA",` + esriGCSETRS89 +
			`,PROJECTION["Lambert_Azimuthal_Equal_Area"],` +
			`PARAMETER["False_Easting",4321000.0],PARAMETER["False_Northing",3210000.0],` +
			`PARAMETER["Central_Meridian",10.0],PARAMETER["Latitude_Of_Origin",52.0],` +
			`UNIT["Meter",1.0]]`, true
	case 32601 <= epsg && epsg <= 32660:
		return esriUTM("WGS_1984", esriGCSWGS84, epsg-32600, true), true
	case 32701 <= epsg && epsg <= 32760:
		return esriUTM("WGS_1984", esriGCSWGS84, epsg-32700, false), true
	case 25828 <= epsg && epsg <= 25838:
		return esriUTM("ETRS_1989", esriGCSETRS89, epsg-25800, true), true
	default:
		return "", false
	}
}

func esriUTM(datum, geogcs string, zone int, north bool) string {
	hemisphere, falseNorthing := "N", "0.0"
	if !north {
		hemisphere, falseNorthing = "S", "10000000.0"
	}
	centralMeridian := strconv.FormatFloat(float64(6*zone-183), 'f', 1, 64)
	return `PROJCS["` + datum + `_UTM_Zone_` + strconv.Itoa(zone) + hemisphere + `",` + geogcs +
		`,PROJECTION["Transverse_Mercator"],` +
		`PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",` + falseNorthing + `],` +
		`PARAMETER["Central_Meridian",` + centralMeridian + `],PARAMETER["Scale_Factor",0.9996],` +
		`PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`
}
