package terrain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// A Compression is a GeoTIFF block compression scheme supported by
// WriteGeoTIFF.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
)

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "deflate":
		return CompressionDeflate, nil
	default:
		return 0, fmt.Errorf("%s: unknown compression", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionDeflate:
		return "deflate"
	default:
		return "Compression(" + strconv.Itoa(int(c)) + ")"
	}
}

type geoTIFFWriter struct {
	compression     Compression
	stripSizeBytes  int
	rowsPerStrip    int
	stripData       [][]byte
	extraData       []byte
	entries         []ifdEntry
	extraDataOffset uint32
}

type GeoTIFFWriterOption func(*geoTIFFWriter)

// WithCompression sets the strip compression.
func WithCompression(compression Compression) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.compression = compression
	}
}

// WithStripSize sets the target uncompressed strip size in bytes.
func WithStripSize(stripSize int) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.stripSizeBytes = stripSize
	}
}

const (
	tiffTypeASCII  = 2
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeDouble = 12
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// WriteGeoTIFF writes r to w as a little endian, stripped, float32 GeoTIFF.
func WriteGeoTIFF(w io.Writer, r *Raster, options ...GeoTIFFWriterOption) error {
	if r.Width <= 0 || r.Height <= 0 || len(r.Samples) != r.Width*r.Height {
		return fmt.Errorf("%dx%d: invalid raster", r.Width, r.Height)
	}

	gw := &geoTIFFWriter{
		stripSizeBytes: 64 << 10, // 64KB.
	}
	for _, option := range options {
		option(gw)
	}
	gw.rowsPerStrip = min(max(gw.stripSizeBytes/(4*r.Width), 1), r.Height)

	if err := gw.encodeStrips(r); err != nil {
		return err
	}
	gw.buildEntries(r)

	var buf bytes.Buffer
	buf.WriteString("II")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(42))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(8))

	ifdSize := 2 + 12*len(gw.entries) + 4
	gw.extraDataOffset = uint32(8 + ifdSize)
	// Strip offsets depend on the extra data size, which depends only on
	// entry sizes.
	stripOffset := gw.extraDataOffset + uint32(gw.extraDataSize())
	stripOffsets := make([]uint32, len(gw.stripData))
	for i, strip := range gw.stripData {
		stripOffsets[i] = stripOffset
		stripOffset += uint32(len(strip))
	}
	gw.entry(273).value = longs(stripOffsets)

	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(gw.entries)))
	for i := range gw.entries {
		gw.writeEntry(&buf, &gw.entries[i])
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(gw.extraData)
	for _, strip := range gw.stripData {
		buf.Write(strip)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (gw *geoTIFFWriter) encodeStrips(r *Raster) error {
	for row := 0; row < r.Height; row += gw.rowsPerStrip {
		rows := min(gw.rowsPerStrip, r.Height-row)
		raw := make([]byte, 4*r.Width*rows)
		for i, sample := range r.Samples[row*r.Width : (row+rows)*r.Width] {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(sample)))
		}
		switch gw.compression {
		case CompressionDeflate:
			var compressed bytes.Buffer
			zw := zlib.NewWriter(&compressed)
			if _, err := zw.Write(raw); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			gw.stripData = append(gw.stripData, compressed.Bytes())
		default:
			gw.stripData = append(gw.stripData, raw)
		}
	}
	return nil
}

func (gw *geoTIFFWriter) buildEntries(r *Raster) {
	compression := uint16(compressionNone)
	if gw.compression == CompressionDeflate {
		compression = compressionDeflate
	}
	stripByteCounts := make([]uint32, len(gw.stripData))
	for i, strip := range gw.stripData {
		stripByteCounts[i] = uint32(len(strip))
	}

	gt := r.GeoTransform
	gw.entries = []ifdEntry{
		{tag: 256, typ: tiffTypeLong, value: longs([]uint32{uint32(r.Width)})},
		{tag: 257, typ: tiffTypeLong, value: longs([]uint32{uint32(r.Height)})},
		{tag: 258, typ: tiffTypeShort, value: shorts([]uint16{32})},
		{tag: 259, typ: tiffTypeShort, value: shorts([]uint16{compression})},
		{tag: 262, typ: tiffTypeShort, value: shorts([]uint16{1})},
		{tag: 273, typ: tiffTypeLong, value: longs(make([]uint32, len(gw.stripData)))},
		{tag: 277, typ: tiffTypeShort, value: shorts([]uint16{1})},
		{tag: 278, typ: tiffTypeLong, value: longs([]uint32{uint32(gw.rowsPerStrip)})},
		{tag: 279, typ: tiffTypeLong, value: longs(stripByteCounts)},
		{tag: 284, typ: tiffTypeShort, value: shorts([]uint16{1})},
		{tag: 339, typ: tiffTypeShort, value: shorts([]uint16{sampleFormatFloat})},
	}
	if gt[2] == 0 && gt[4] == 0 {
		gw.entries = append(gw.entries,
			ifdEntry{tag: 33550, typ: tiffTypeDouble, value: doubles([]float64{gt[1], -gt[5], 0})},
			ifdEntry{tag: 33922, typ: tiffTypeDouble, value: doubles([]float64{0, 0, 0, gt[0], gt[3], 0})},
		)
	} else {
		gw.entries = append(gw.entries, ifdEntry{tag: 34264, typ: tiffTypeDouble, value: doubles([]float64{
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		})})
	}
	gw.entries = append(gw.entries, ifdEntry{
		tag:   34735,
		typ:   tiffTypeShort,
		value: shorts(geoKeyDirectory(r.EPSG, r.Geographic)),
	})
	if !math.IsNaN(r.NoData) {
		gw.entries = append(gw.entries, ifdEntry{
			tag:   42113,
			typ:   tiffTypeASCII,
			value: append([]byte(strconv.FormatFloat(r.NoData, 'g', -1, 64)), 0),
		})
	}
	slices.SortFunc(gw.entries, func(a, b ifdEntry) int {
		return int(a.tag) - int(b.tag)
	})
	for i := range gw.entries {
		gw.entries[i].count = uint32(len(gw.entries[i].value) / tiffTypeSize(gw.entries[i].typ))
	}
}

func (gw *geoTIFFWriter) entry(tag uint16) *ifdEntry {
	for i := range gw.entries {
		if gw.entries[i].tag == tag {
			return &gw.entries[i]
		}
	}
	return nil
}

// extraDataSize returns the size of the values that do not fit in their IFD
// entries, each padded to a word boundary.
func (gw *geoTIFFWriter) extraDataSize() int {
	size := 0
	for _, entry := range gw.entries {
		if len(entry.value) > 4 {
			size += len(entry.value) + len(entry.value)%2
		}
	}
	return size
}

func (gw *geoTIFFWriter) writeEntry(buf *bytes.Buffer, entry *ifdEntry) {
	_ = binary.Write(buf, binary.LittleEndian, entry.tag)
	_ = binary.Write(buf, binary.LittleEndian, entry.typ)
	_ = binary.Write(buf, binary.LittleEndian, entry.count)
	if len(entry.value) <= 4 {
		value := make([]byte, 4)
		copy(value, entry.value)
		buf.Write(value)
		return
	}
	_ = binary.Write(buf, binary.LittleEndian, gw.extraDataOffset+uint32(len(gw.extraData)))
	gw.extraData = append(gw.extraData, entry.value...)
	if len(entry.value)%2 != 0 {
		gw.extraData = append(gw.extraData, 0)
	}
}

func tiffTypeSize(typ uint16) int {
	switch typ {
	case tiffTypeShort:
		return 2
	case tiffTypeLong:
		return 4
	case tiffTypeDouble:
		return 8
	default:
		return 1
	}
}

func shorts(values []uint16) []byte {
	b := make([]byte, 2*len(values))
	for i, value := range values {
		binary.LittleEndian.PutUint16(b[2*i:], value)
	}
	return b
}

func longs(values []uint32) []byte {
	b := make([]byte, 4*len(values))
	for i, value := range values {
		binary.LittleEndian.PutUint32(b[4*i:], value)
	}
	return b
}

func doubles(values []float64) []byte {
	b := make([]byte, 8*len(values))
	for i, value := range values {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(value))
	}
	return b
}
