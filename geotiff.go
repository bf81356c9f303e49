package terrain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionDeflateAdobe = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	rasterTypePixelIsPoint = 2
)

// Limits on the sizes read from TIFF headers.
const (
	maxPixels     = 1 << 28
	maxBlockBytes = 1 << 30
)

// A GeoTIFF is a single band GeoTIFF held in memory. Blocks, either strips or
// tiles, are decoded lazily and cached.
type GeoTIFF struct {
	data                []byte
	byteOrder           binary.ByteOrder
	width               int
	height              int
	blockWidth          int
	blockLength         int
	blocksAcross        int
	blocksDown          int
	blockOffsets        []uint64
	blockByteCounts     []uint64
	bytesPerSample      int
	samplesPerPixel     int
	compression         int
	predictor           int
	sampleFormat        int
	geoTransform        GeoTransform
	noData              float64
	epsg                int
	geographic          bool
	blockCacheSizeBytes int
	blockSamplesCache   *otter.Cache[TileCoord, []float64]
}

type GeoTIFFOption func(*GeoTIFF)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             []uint16  `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// OpenGeoTIFF reads the GeoTIFF at path.
func OpenGeoTIFF(path string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewGeoTIFF(data, options...)
}

// NewGeoTIFF returns a new GeoTIFF backed by data.
func NewGeoTIFF(data []byte, options ...GeoTIFFOption) (*GeoTIFF, error) {
	var err error

	g := &GeoTIFF{
		data:                data,
		blockCacheSizeBytes: 64 << 20, // 64MB.
		noData:              math.NaN(),
	}

	switch {
	case len(data) < 8:
		return nil, errShortRead
	case data[0] == 'I' && data[1] == 'I':
		g.byteOrder = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		g.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a TIFF", errParse)
	}

	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%w: no IFDs", errParse)
	}

	// Overviews and masks follow the full resolution image.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if err := g.setLayout(&ifd); err != nil {
		return nil, err
	}
	if err := g.setGeoreferencing(&ifd); err != nil {
		return nil, err
	}
	if noData := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")); noData != "" {
		if g.noData, err = strconv.ParseFloat(noData, 64); err != nil {
			return nil, fmt.Errorf("%w: no data %q", errParse, noData)
		}
		if g.sampleFormat == sampleFormatFloat && g.bytesPerSample == 4 {
			g.noData = float64(float32(g.noData))
		}
	}

	for _, option := range options {
		option(g)
	}

	blockByteCountUncompressed := g.blockWidth * g.blockLength * g.bytesPerSample * g.samplesPerPixel
	blockCacheCount := max(g.blockCacheSizeBytes/max(blockByteCountUncompressed, 1), 1)
	g.blockSamplesCache, err = otter.New(&otter.Options[TileCoord, []float64]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	return g, nil
}

// WithBlockCacheSize sets the size in bytes of the decoded block cache.
func WithBlockCacheSize(blockCacheSize int) GeoTIFFOption {
	return func(g *GeoTIFF) {
		g.blockCacheSizeBytes = blockCacheSize
	}
}

// WithEPSG overrides the CRS read from the GeoKeys.
func WithEPSG(epsg int) GeoTIFFOption {
	return func(g *GeoTIFF) {
		if epsg != 0 {
			g.epsg = epsg
			g.geographic = epsg == 4326 || epsg == 4258 || epsg == 4269
		}
	}
}

func (g *GeoTIFF) setLayout(ifd *geoTIFFIFD) error {
	if ifd.ImageWidth == 0 || ifd.ImageLength == 0 {
		return fmt.Errorf("%w: empty image", errParse)
	}
	if uint64(ifd.ImageWidth)*uint64(ifd.ImageLength) > maxPixels {
		return fmt.Errorf("%w: %dx%d: image too large", errParse, ifd.ImageWidth, ifd.ImageLength)
	}
	g.width = int(ifd.ImageWidth)
	g.height = int(ifd.ImageLength)

	g.samplesPerPixel = max(int(ifd.SamplesPerPixel), 1)
	if g.samplesPerPixel > 1 && ifd.PlanarConfiguration == 2 {
		return errors.ErrUnsupported
	}
	if len(ifd.BitsPerSample) == 0 {
		return fmt.Errorf("%w: missing bits per sample", errParse)
	}
	bitsPerSample := int(ifd.BitsPerSample[0])
	if bitsPerSample%8 != 0 {
		return errors.ErrUnsupported
	}
	g.bytesPerSample = bitsPerSample / 8

	g.sampleFormat = sampleFormatUint
	if len(ifd.SampleFormat) > 0 {
		g.sampleFormat = int(ifd.SampleFormat[0])
	}
	switch {
	case g.sampleFormat == sampleFormatFloat && (g.bytesPerSample == 4 || g.bytesPerSample == 8):
	case g.sampleFormat == sampleFormatUint || g.sampleFormat == sampleFormatInt:
		if g.bytesPerSample != 1 && g.bytesPerSample != 2 && g.bytesPerSample != 4 {
			return errors.ErrUnsupported
		}
	default:
		return errors.ErrUnsupported
	}

	g.compression = max(int(ifd.Compression), compressionNone)
	switch g.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateAdobe:
	default:
		return fmt.Errorf("compression %d: %w", g.compression, errors.ErrUnsupported)
	}
	g.predictor = max(int(ifd.Predictor), predictorNone)
	if g.predictor != predictorNone && (g.predictor != predictorHorizontal || g.sampleFormat == sampleFormatFloat) {
		return fmt.Errorf("predictor %d: %w", g.predictor, errors.ErrUnsupported)
	}

	switch {
	case ifd.TileWidth != 0 && ifd.TileLength != 0:
		if uint64(ifd.TileWidth)*uint64(ifd.TileLength) > maxPixels {
			return fmt.Errorf("%w: %dx%d: tile too large", errParse, ifd.TileWidth, ifd.TileLength)
		}
		g.blockWidth = int(ifd.TileWidth)
		g.blockLength = int(ifd.TileLength)
		g.blockOffsets = ifd.TileOffsets
		g.blockByteCounts = ifd.TileByteCounts
	default:
		g.blockWidth = g.width
		g.blockLength = int(ifd.RowsPerStrip)
		if g.blockLength == 0 || g.blockLength > g.height {
			g.blockLength = g.height
		}
		g.blockOffsets = ifd.StripOffsets
		g.blockByteCounts = ifd.StripByteCounts
	}
	g.blocksAcross = (g.width + g.blockWidth - 1) / g.blockWidth
	g.blocksDown = (g.height + g.blockLength - 1) / g.blockLength
	blocksPerImage := g.blocksAcross * g.blocksDown
	if len(g.blockOffsets) != blocksPerImage || len(g.blockByteCounts) != blocksPerImage {
		return errors.New("incorrect number of block byte counts or offsets")
	}
	if blockBytes := g.blockWidth * g.blockLength * g.samplesPerPixel * g.bytesPerSample; blockBytes > maxBlockBytes {
		return fmt.Errorf("%w: %d byte blocks: too large", errParse, blockBytes)
	}
	for i, offset := range g.blockOffsets {
		if !g.inData(offset, g.blockByteCounts[i]) {
			return fmt.Errorf("%w: block %d: %d bytes at %d: out of range", errParse, i, g.blockByteCounts[i], offset)
		}
	}
	return nil
}

// inData returns whether the byteCount bytes at offset lie within g's data.
func (g *GeoTIFF) inData(offset, byteCount uint64) bool {
	size := uint64(len(g.data))
	return offset <= size && byteCount <= size-offset
}

func (g *GeoTIFF) setGeoreferencing(ifd *geoTIFFIFD) error {
	rasterType := rasterTypePixelArea
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return err
		}
		g.epsg, g.geographic = geoKeys.EPSG()
		if value, ok := geoKeys.Params[GeoKeyGTRasterType]; ok {
			rasterType = value
		}
	}

	switch {
	case len(ifd.ModelTransformationTag) == 16:
		m := ifd.ModelTransformationTag
		g.geoTransform = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	case len(ifd.ModelPixelScaleTag) >= 2 && len(ifd.ModelTiepointTag) >= 6:
		scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		g.geoTransform = GeoTransform{x - i*scaleX, scaleX, 0, y + j*scaleY, 0, -scaleY}
	default:
		return fmt.Errorf("%w: missing georeferencing", errParse)
	}

	if rasterType == rasterTypePixelIsPoint {
		g.geoTransform[0] -= (g.geoTransform[1] + g.geoTransform[2]) / 2
		g.geoTransform[3] -= (g.geoTransform[4] + g.geoTransform[5]) / 2
	}
	return nil
}

func (g *GeoTIFF) Width() int                 { return g.width }
func (g *GeoTIFF) Height() int                { return g.height }
func (g *GeoTIFF) GeoTransform() GeoTransform { return g.geoTransform }
func (g *GeoTIFF) NoData() float64            { return g.noData }
func (g *GeoTIFF) EPSG() int                  { return g.epsg }
func (g *GeoTIFF) Geographic() bool           { return g.geographic }

// CRS returns g's coordinate reference system as a PROJ string.
func (g *GeoTIFF) CRS() string {
	return EPSGCRS(g.epsg)
}

// Samples returns the samples at coords. Coordinates outside the image and
// no-data samples are returned as NaN.
func (g *GeoTIFF) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	// Group indexes by block.
	indexesByTileCoord := make(map[TileCoord][]int)
	for index, coord := range coords {
		tileCoord, ok := g.tileCoord(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByTileCoord[tileCoord] = append(indexesByTileCoord[tileCoord], index)
	}

	// Populate samples one block at a time.
	for tileCoord, indexes := range indexesByTileCoord {
		slices.Sort(indexes)
		blockSamples, err := g.getBlockSamplesCached(ctx, tileCoord)
		if err != nil {
			return nil, err
		}
		for _, index := range indexes {
			sample := g.blockSample(blockSamples, coords[index])
			if sample == g.noData {
				sample = math.NaN()
			}
			samples[index] = sample
		}
	}

	return samples, nil
}

// Window returns the width by height window whose top left pixel is (col,
// row). Pixels outside the image are set to no-data.
func (g *GeoTIFF) Window(ctx context.Context, col, row, width, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%dx%d: invalid window size", width, height)
	}
	r := NewRaster(width, height, g.geoTransform.Translate(col, row), g.noData, g.epsg)
	r.Geographic = g.geographic

	c0, r0 := max(col, 0), max(row, 0)
	c1, r1 := min(col+width, g.width), min(row+height, g.height)
	if c0 >= c1 || r0 >= r1 {
		return r, nil
	}
	for tileR := r0 / g.blockLength; tileR <= (r1-1)/g.blockLength; tileR++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for tileC := c0 / g.blockWidth; tileC <= (c1-1)/g.blockWidth; tileC++ {
			blockSamples, err := g.getBlockSamplesCached(ctx, TileCoord{C: tileC, R: tileR})
			if err != nil {
				return nil, err
			}
			for y := max(r0, tileR*g.blockLength); y < min(r1, (tileR+1)*g.blockLength); y++ {
				for x := max(c0, tileC*g.blockWidth); x < min(c1, (tileC+1)*g.blockWidth); x++ {
					r.Set(x-col, y-row, g.blockSample(blockSamples, Coord{X: x, Y: y}))
				}
			}
		}
	}
	return r, nil
}

// Raster returns the whole of g as a Raster.
func (g *GeoTIFF) Raster(ctx context.Context) (*Raster, error) {
	return g.Window(ctx, 0, 0, g.width, g.height)
}

// tileCoord returns the block containing coord.
func (g *GeoTIFF) tileCoord(coord Coord) (TileCoord, bool) {
	if coord.X < 0 || g.width <= coord.X || coord.Y < 0 || g.height <= coord.Y {
		return TileCoord{}, false
	}
	return TileCoord{
		C: coord.X / g.blockWidth,
		R: coord.Y / g.blockLength,
	}, true
}

// blockSample returns the sample from blockSamples at coord.
func (g *GeoTIFF) blockSample(blockSamples []float64, coord Coord) float64 {
	return blockSamples[coord.X%g.blockWidth+(coord.Y%g.blockLength)*g.blockWidth]
}

// getBlockSamplesCached returns the samples of the block at tileCoord using
// g's cache.
func (g *GeoTIFF) getBlockSamplesCached(ctx context.Context, tileCoord TileCoord) ([]float64, error) {
	return g.blockSamplesCache.Get(ctx, tileCoord, otter.LoaderFunc[TileCoord, []float64](g.getBlockSamples))
}

// getBlockSamples reads, decompresses, and decodes the block at tileCoord.
func (g *GeoTIFF) getBlockSamples(ctx context.Context, tileCoord TileCoord) ([]float64, error) {
	blockIndex := tileCoord.C + g.blocksAcross*tileCoord.R
	offset, byteCount := g.blockOffsets[blockIndex], g.blockByteCounts[blockIndex]
	if !g.inData(offset, byteCount) {
		return nil, errShortRead
	}
	compressedData := g.data[offset : offset+byteCount]

	// The last strip may be short.
	rows := g.blockLength
	if g.blockWidth == g.width {
		rows = min(g.blockLength, g.height-tileCoord.R*g.blockLength)
	}
	rowBytes := g.blockWidth * g.samplesPerPixel * g.bytesPerSample
	blockData, err := g.decompressBlockData(compressedData, rows*rowBytes)
	if err != nil {
		return nil, fmt.Errorf("block %d,%d: %w", tileCoord.C, tileCoord.R, err)
	}
	if g.predictor == predictorHorizontal {
		g.undoHorizontalPredictor(blockData, rowBytes)
	}

	blockSamples := make([]float64, g.blockWidth*g.blockLength)
	for i := range g.blockWidth * rows {
		blockSamples[i] = g.decodeSample(blockData[i*g.samplesPerPixel*g.bytesPerSample:])
	}
	for i := g.blockWidth * rows; i < len(blockSamples); i++ {
		blockSamples[i] = g.noData
	}
	return blockSamples, nil
}

// decompressBlockData decompresses the block data in compressedData.
func (g *GeoTIFF) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch g.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return slices.Clone(compressedData[:size]), nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionDeflate, compressionDeflateAdobe:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// undoHorizontalPredictor reverses horizontal differencing in place.
func (g *GeoTIFF) undoHorizontalPredictor(blockData []byte, rowBytes int) {
	stride := g.samplesPerPixel
	for start := 0; start+rowBytes <= len(blockData); start += rowBytes {
		row := blockData[start : start+rowBytes]
		switch g.bytesPerSample {
		case 1:
			for i := stride; i < len(row); i++ {
				row[i] += row[i-stride]
			}
		case 2:
			for i := stride; i < len(row)/2; i++ {
				prev := g.byteOrder.Uint16(row[2*(i-stride):])
				g.byteOrder.PutUint16(row[2*i:], g.byteOrder.Uint16(row[2*i:])+prev)
			}
		case 4:
			for i := stride; i < len(row)/4; i++ {
				prev := g.byteOrder.Uint32(row[4*(i-stride):])
				g.byteOrder.PutUint32(row[4*i:], g.byteOrder.Uint32(row[4*i:])+prev)
			}
		}
	}
}

// decodeSample decodes the first sample in b.
func (g *GeoTIFF) decodeSample(b []byte) float64 {
	switch g.sampleFormat {
	case sampleFormatFloat:
		if g.bytesPerSample == 4 {
			return float64(math.Float32frombits(g.byteOrder.Uint32(b)))
		}
		return math.Float64frombits(g.byteOrder.Uint64(b))
	case sampleFormatInt:
		switch g.bytesPerSample {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(g.byteOrder.Uint16(b)))
		default:
			return float64(int32(g.byteOrder.Uint32(b)))
		}
	default:
		switch g.bytesPerSample {
		case 1:
			return float64(b[0])
		case 2:
			return float64(g.byteOrder.Uint16(b))
		default:
			return float64(g.byteOrder.Uint32(b))
		}
	}
}
