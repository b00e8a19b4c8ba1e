package header

import (
	"github.com/pkg/errors"

	"mapsforge/binschema"
	mio "mapsforge/io"
	"mapsforge/tag"
)

// Tag re-exports tag.Tag so callers of this package do not need to
// import mapsforge/tag directly for the common case.
type Tag = tag.Tag

// MapFileInfo is the file-level metadata the header layer hands the
// decoder: bounding box, supported zoom range, and the two tag tables
// every block in the file indexes into.
type MapFileInfo struct {
	FileSize        int64
	MapDate         int64
	BoundingBox     [4]int32 // minLat, minLon, maxLat, maxLon, in micro-degrees
	ZoomLevelMin    uint8
	ZoomLevelMax    uint8
	POITags         []Tag
	WayTags         []Tag
	Comment         string
	CreatedBy       string
}

// SubFileParameter describes one zoom-range sub-file inside the map
// file: where it lives, the block grid it is organized into, and the
// boundary of that grid in the sub-file's own base-zoom tile
// coordinates. All tile coordinates here are given in the baseZoomLevel
// grid.
type SubFileParameter struct {
	BaseZoomLevel     uint8
	ZoomLevelMin      uint8
	ZoomLevelMax      uint8
	StartAddress      int64
	SubFileSize       int64
	IndexStartAddress int64

	BoundaryTileTop    uint32
	BoundaryTileLeft   uint32
	BoundaryTileBottom uint32
	BoundaryTileRight  uint32

	BlocksWidth    uint32
	BlocksHeight   uint32
	NumberOfBlocks int64
}

// Header is the contract the decoder relies on for everything it does
// not itself parse: the global file metadata and the per-zoom-level
// sub-file description a query is routed through.
type Header interface {
	GetMapFileInfo() (*MapFileInfo, error)
	GetQueryZoomLevel(rawZoom uint8) uint8
	GetSubFileParameter(queryZoomLevel uint8) (*SubFileParameter, bool)
}

// FileHeader is a minimal, self-consistent header reader: magic string,
// a fixed-width MapFileInfo preamble, a POI and a way tag table, then
// one fixed-width SubFileParameter record per zoom-level range - rather
// than the full variable-length mapsforge header format, whose parsing
// is a separate concern from the block decoder this repo implements.
// Build one either from bytes via ReadFileHeader or from already-known
// values via NewFileHeader.
type FileHeader struct {
	info     MapFileInfo
	subFiles []SubFileParameter
}

func NewFileHeader(info MapFileInfo, subFiles []SubFileParameter) *FileHeader {
	return &FileHeader{info: info, subFiles: subFiles}
}

func (h *FileHeader) GetMapFileInfo() (*MapFileInfo, error) {
	if h == nil {
		return nil, errors.New("no file open")
	}
	info := h.info
	return &info, nil
}

// GetQueryZoomLevel clamps rawZoom into the range covered by whichever
// sub-file is the closest match, matching the Java source's behaviour
// of never asking a sub-file for a zoom level outside what it stores.
func (h *FileHeader) GetQueryZoomLevel(rawZoom uint8) uint8 {
	best := rawZoom
	bestDistance := -1
	for _, sub := range h.subFiles {
		clamped := rawZoom
		if clamped < sub.ZoomLevelMin {
			clamped = sub.ZoomLevelMin
		}
		if clamped > sub.ZoomLevelMax {
			clamped = sub.ZoomLevelMax
		}

		distance := int(rawZoom) - int(clamped)
		if distance < 0 {
			distance = -distance
		}
		if bestDistance == -1 || distance < bestDistance {
			bestDistance = distance
			best = clamped
		}
	}
	return best
}

func (h *FileHeader) GetSubFileParameter(queryZoomLevel uint8) (*SubFileParameter, bool) {
	for i := range h.subFiles {
		sub := &h.subFiles[i]
		if queryZoomLevel >= sub.ZoomLevelMin && queryZoomLevel <= sub.ZoomLevelMax {
			return sub, true
		}
	}
	return nil, false
}

// fileMagic is this reader's own header signature, not the real
// mapsforge format's (which this package does not implement - see the
// FileHeader doc comment).
const fileMagic = "mapsforge binary OSM"

// rawMapFileInfo is MapFileInfo's fixed-width-plus-strings preamble, laid
// out for decoding in one binschema.Schema.Read call: two int64s, four
// int32s (the bounding box), two zoom bytes, a sub-file count, then the
// two length-prefixed strings StringItem knows how to read. The POI/way
// tag tables follow this preamble but are read separately with
// io.ReadBuffer, since each tag's key/value pair is itself a pair of
// VBE-U-length-prefixed strings, not binschema's fixed uint16 prefix.
type rawMapFileInfo struct {
	FileSize     int64
	MapDate      int64
	MinLat       int32
	MinLon       int32
	MaxLat       int32
	MaxLon       int32
	ZoomLevelMin uint8
	ZoomLevelMax uint8
	NumSubFiles  int32
	Comment      string
	CreatedBy    string
}

var mapFileInfoSchema = binschema.Schema{Items: []binschema.Item{
	&binschema.DataItem{FieldName: "FileSize", BinaryType: binschema.DatatypeInt64},
	&binschema.DataItem{FieldName: "MapDate", BinaryType: binschema.DatatypeInt64},
	&binschema.DataItem{FieldName: "MinLat", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "MinLon", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "MaxLat", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "MaxLon", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "ZoomLevelMin", BinaryType: binschema.DatatypeByte},
	&binschema.DataItem{FieldName: "ZoomLevelMax", BinaryType: binschema.DatatypeByte},
	&binschema.DataItem{FieldName: "NumSubFiles", BinaryType: binschema.DatatypeInt32},
	&binschema.StringItem{FieldName: "Comment"},
	&binschema.StringItem{FieldName: "CreatedBy"},
}}

// rawSubFileParameter mirrors SubFileParameter's on-disk fields. Boundary
// tile numbers and block counts are read as int32 (binschema has no
// unsigned-32 datatype) and widened to uint32 afterwards; they are small
// tile-grid coordinates in practice, never large enough for the sign bit
// to matter.
type rawSubFileParameter struct {
	BaseZoomLevel      uint8
	ZoomLevelMin       uint8
	ZoomLevelMax       uint8
	StartAddress       int64
	SubFileSize        int64
	IndexStartAddress  int64
	BoundaryTileTop    int32
	BoundaryTileLeft   int32
	BoundaryTileBottom int32
	BoundaryTileRight  int32
	BlocksWidth        int32
	BlocksHeight       int32
}

var subFileParameterSchema = binschema.Schema{Items: []binschema.Item{
	&binschema.DataItem{FieldName: "BaseZoomLevel", BinaryType: binschema.DatatypeByte},
	&binschema.DataItem{FieldName: "ZoomLevelMin", BinaryType: binschema.DatatypeByte},
	&binschema.DataItem{FieldName: "ZoomLevelMax", BinaryType: binschema.DatatypeByte},
	&binschema.DataItem{FieldName: "StartAddress", BinaryType: binschema.DatatypeInt64},
	&binschema.DataItem{FieldName: "SubFileSize", BinaryType: binschema.DatatypeInt64},
	&binschema.DataItem{FieldName: "IndexStartAddress", BinaryType: binschema.DatatypeInt64},
	&binschema.DataItem{FieldName: "BoundaryTileTop", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "BoundaryTileLeft", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "BoundaryTileBottom", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "BoundaryTileRight", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "BlocksWidth", BinaryType: binschema.DatatypeInt32},
	&binschema.DataItem{FieldName: "BlocksHeight", BinaryType: binschema.DatatypeInt32},
}}

// readSchemaAt decodes schema against buffer's bytes starting at its
// current cursor, advancing the cursor by exactly the bytes the schema
// consumed.
func readSchemaAt(buffer *mio.ReadBuffer, schema *binschema.Schema, object any) error {
	start := buffer.Position()
	data := buffer.RawBytesFrom(start)
	next, err := schema.Read(object, data, 0)
	if err != nil {
		return err
	}
	buffer.SetPosition(start + next)
	return nil
}

// readTagTable reads a VBE-U tag count followed by that many (key,
// value) UTF-8 string pairs.
func readTagTable(buffer *mio.ReadBuffer) ([]Tag, error) {
	count, err := buffer.ReadUnsignedInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading tag count")
	}
	if count < 0 {
		return nil, errors.Errorf("negative tag count %d", count)
	}
	tags := make([]Tag, count)
	for i := range tags {
		key, err := buffer.ReadUTF8EncodedString()
		if err != nil {
			return nil, errors.Wrapf(err, "reading key of tag %d", i)
		}
		value, err := buffer.ReadUTF8EncodedString()
		if err != nil {
			return nil, errors.Wrapf(err, "reading value of tag %d", i)
		}
		tags[i] = Tag{Key: key, Value: value}
	}
	return tags, nil
}

// ReadFileHeader parses a FileHeader from buffer, which must already be
// positioned at the start of the header (normally offset 0, right after
// a fresh ReadFromFile covering the whole header region). It never
// returns both a non-nil *FileHeader and a failed FileOpenResult.
func ReadFileHeader(buffer *mio.ReadBuffer) (*FileHeader, FileOpenResult) {
	magic, err := buffer.ReadUTF8EncodedStringFixed(len(fileMagic))
	if err != nil {
		return nil, NewFailure(errors.Wrap(err, "reading magic").Error())
	}
	if magic != fileMagic {
		return nil, NewFailure(errors.Errorf("not a recognized map file, got magic %q", magic).Error())
	}

	var raw rawMapFileInfo
	if err := readSchemaAt(buffer, &mapFileInfoSchema, &raw); err != nil {
		return nil, NewFailure(errors.Wrap(err, "reading map file info").Error())
	}
	if raw.ZoomLevelMin > raw.ZoomLevelMax {
		return nil, NewFailure(errors.Errorf("zoom level min %d exceeds max %d", raw.ZoomLevelMin, raw.ZoomLevelMax).Error())
	}
	if raw.NumSubFiles <= 0 {
		return nil, NewFailure(errors.Errorf("invalid sub-file count %d", raw.NumSubFiles).Error())
	}

	poiTags, err := readTagTable(buffer)
	if err != nil {
		return nil, NewFailure(errors.Wrap(err, "reading POI tag table").Error())
	}
	wayTags, err := readTagTable(buffer)
	if err != nil {
		return nil, NewFailure(errors.Wrap(err, "reading way tag table").Error())
	}

	subFiles := make([]SubFileParameter, raw.NumSubFiles)
	for i := range subFiles {
		var rawSub rawSubFileParameter
		if err := readSchemaAt(buffer, &subFileParameterSchema, &rawSub); err != nil {
			return nil, NewFailure(errors.Wrapf(err, "reading sub-file parameter %d", i).Error())
		}
		subFiles[i] = SubFileParameter{
			BaseZoomLevel:      rawSub.BaseZoomLevel,
			ZoomLevelMin:       rawSub.ZoomLevelMin,
			ZoomLevelMax:       rawSub.ZoomLevelMax,
			StartAddress:       rawSub.StartAddress,
			SubFileSize:        rawSub.SubFileSize,
			IndexStartAddress:  rawSub.IndexStartAddress,
			BoundaryTileTop:    uint32(rawSub.BoundaryTileTop),
			BoundaryTileLeft:   uint32(rawSub.BoundaryTileLeft),
			BoundaryTileBottom: uint32(rawSub.BoundaryTileBottom),
			BoundaryTileRight:  uint32(rawSub.BoundaryTileRight),
			BlocksWidth:        uint32(rawSub.BlocksWidth),
			BlocksHeight:       uint32(rawSub.BlocksHeight),
			NumberOfBlocks:     int64(rawSub.BlocksWidth) * int64(rawSub.BlocksHeight),
		}
	}

	info := MapFileInfo{
		FileSize:     raw.FileSize,
		MapDate:      raw.MapDate,
		BoundingBox:  [4]int32{raw.MinLat, raw.MinLon, raw.MaxLat, raw.MaxLon},
		ZoomLevelMin: raw.ZoomLevelMin,
		ZoomLevelMax: raw.ZoomLevelMax,
		POITags:      poiTags,
		WayTags:      wayTags,
		Comment:      raw.Comment,
		CreatedBy:    raw.CreatedBy,
	}

	return &FileHeader{info: info, subFiles: subFiles}, SuccessResult
}
