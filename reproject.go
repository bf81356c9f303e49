package terrain

import (
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twpayne/go-proj/v11"
)

// CRSWGS84 is the CRS of KML and GeoJSON boundaries.
const CRSWGS84 = "EPSG:4326"

var (
	transformerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_transformer_cache_hits_total",
		Help: "The total number of hits on the CRS transformer cache",
	})
	transformerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_transformer_cache_misses_total",
		Help: "The total number of misses on the CRS transformer cache",
	})
)

// EPSGCRS returns the CRS string for an EPSG code, or the empty string if epsg
// is zero.
func EPSGCRS(epsg int) string {
	if epsg == 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(epsg)
}

type crsPair struct {
	src string
	dst string
}

// A Reprojector transforms coordinates between CRSs. It caches PROJ
// transformers by CRS pair and is safe for concurrent use.
type Reprojector struct {
	mutex            sync.Mutex
	transformerCache *lru.Cache[crsPair, *proj.PJ]
}

// NewReprojector returns a new Reprojector that caches up to size
// transformers.
func NewReprojector(size int) (*Reprojector, error) {
	transformerCache, err := lru.New[crsPair, *proj.PJ](max(size, 1))
	if err != nil {
		return nil, err
	}
	return &Reprojector{
		transformerCache: transformerCache,
	}, nil
}

// Transform transforms coords from src to dst in place. Coordinates are in
// x, y (longitude, latitude) order.
func (r *Reprojector) Transform(src, dst string, coords [][]float64) error {
	if sameCRS(src, dst) || len(coords) == 0 {
		return nil
	}

	// PROJ transformations are not reentrant.
	r.mutex.Lock()
	defer r.mutex.Unlock()

	pj, err := r.transformer(src, dst)
	if err != nil {
		return err
	}
	if authorityLatLon(src) {
		flipCoords(coords)
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return err
	}
	if authorityLatLon(dst) {
		flipCoords(coords)
	}
	return nil
}

// TransformMultiPolygon returns mp transformed from src to dst.
func (r *Reprojector) TransformMultiPolygon(src, dst string, mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	var coords [][]float64
	for _, polygon := range mp {
		for _, ring := range polygon {
			for _, point := range ring {
				coords = append(coords, []float64{point[0], point[1]})
			}
		}
	}
	if err := r.Transform(src, dst, coords); err != nil {
		return nil, err
	}

	result := make(orb.MultiPolygon, 0, len(mp))
	i := 0
	for _, polygon := range mp {
		resultPolygon := make(orb.Polygon, 0, len(polygon))
		for _, ring := range polygon {
			resultRing := make(orb.Ring, 0, len(ring))
			for range ring {
				resultRing = append(resultRing, orb.Point{coords[i][0], coords[i][1]})
				i++
			}
			resultPolygon = append(resultPolygon, resultRing)
		}
		result = append(result, resultPolygon)
	}
	return result, nil
}

func (r *Reprojector) transformer(src, dst string) (*proj.PJ, error) {
	key := crsPair{src: src, dst: dst}
	if pj, ok := r.transformerCache.Get(key); ok {
		transformerCacheHits.Inc()
		return pj, nil
	}
	transformerCacheMisses.Inc()
	pj, err := proj.NewCRSToCRS(src, dst, nil)
	if err != nil {
		return nil, err
	}
	r.transformerCache.Add(key, pj)
	return pj, nil
}

func sameCRS(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

// authorityLatLon returns whether crs uses latitude, longitude axis order.
func authorityLatLon(crs string) bool {
	switch strings.ToUpper(crs) {
	case "EPSG:4326", "EPSG:4258", "EPSG:4269", "EPSG:4979":
		return true
	default:
		return false
	}
}

func flipCoords(coords [][]float64) {
	for i, coord := range coords {
		coords[i][0], coords[i][1] = coord[1], coord[0]
	}
}
