package mapfile

import (
	"math"
	"os"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"mapsforge/cache"
	"mapsforge/header"
	mio "mapsforge/io"
	"mapsforge/mercator"
	"mapsforge/query"
	"mapsforge/tile"
)

// Decoder is the read-only query surface over one open map file:
// OpenFile/CloseFile/HasOpenFile/GetMapFileInfo/ExecuteQuery/ReadString.
// It owns exactly one ReadBuffer, one IndexCache and one BlockDecoder for
// its whole lifetime, reused across queries - not safe for concurrent
// use; a caller wanting concurrency opens the same file with N
// independent Decoders.
type Decoder struct {
	options Options

	file   *os.File
	header header.Header
	buffer *mio.ReadBuffer
	index  *cache.IndexCache
	block  *BlockDecoder
}

// NewDecoder builds a Decoder with no file open yet.
func NewDecoder(options Options) *Decoder {
	return &Decoder{options: options}
}

// HasOpenFile reports whether a file is currently open.
func (d *Decoder) HasOpenFile() bool {
	return d.file != nil
}

// OpenFile opens path, parses its header and prepares the decoder to
// serve queries against it. Any previously open file is closed first.
func (d *Decoder) OpenFile(path string) header.FileOpenResult {
	d.CloseFile()

	file, err := os.Open(path)
	if err != nil {
		return header.NewFailure(errors.Wrap(err, "opening file").Error())
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return header.NewFailure(errors.Wrap(err, "statting file").Error())
	}

	buffer := mio.NewReadBuffer(file)
	headerBytes := info.Size()
	if headerBytes > mio.MaximumBufferSize {
		headerBytes = mio.MaximumBufferSize
	}
	if err := buffer.ReadFromFile(0, int(headerBytes)); err != nil {
		file.Close()
		return header.NewFailure(errors.Wrap(err, "reading header").Error())
	}

	fileHeader, result := header.ReadFileHeader(buffer)
	if !result.IsSuccess() {
		file.Close()
		return result
	}

	d.file = file
	d.header = fileHeader
	d.buffer = buffer
	d.index = cache.NewIndexCache(file)

	mapFileInfo, _ := fileHeader.GetMapFileInfo()
	d.block = NewBlockDecoder(buffer, mapFileInfo.POITags, mapFileInfo.WayTags, d.options)

	return header.SuccessResult
}

// CloseFile releases the open file, if any. Idempotent.
func (d *Decoder) CloseFile() {
	if d.file == nil {
		return
	}
	d.file.Close()
	d.file = nil
	d.header = nil
	d.buffer = nil
	d.index = nil
	d.block = nil
}

// GetMapFileInfo returns the open file's header metadata.
func (d *Decoder) GetMapFileInfo() (*header.MapFileInfo, error) {
	if d.header == nil {
		return nil, errors.New("no file open")
	}
	return d.header.GetMapFileInfo()
}

// ReadString resolves ref against the string pool of whichever way
// sequence is currently open - only meaningful from within a RenderWay
// call fired by ExecuteQuery.
func (d *Decoder) ReadString(ref int32) (string, error) {
	if d.block == nil {
		return "", errors.New("no file open")
	}
	return d.block.ReadString(ref)
}

// LastPOIName, LastPOIHouseNumber and LastPOIElevation expose the most
// recently rendered POI's optional fields - see BlockDecoder's methods
// of the same name, which these delegate to.
func (d *Decoder) LastPOIName() (string, bool)        { return d.block.LastPOIName() }
func (d *Decoder) LastPOIHouseNumber() (string, bool) { return d.block.LastPOIHouseNumber() }
func (d *Decoder) LastPOIElevation() (int32, bool)    { return d.block.LastPOIElevation() }

// LastWayName, LastWayHouseNumber and LastWayRef resolve the most
// recently rendered way's optional string-pool references, or report
// ("", false) if the corresponding feature bit was unset.
func (d *Decoder) LastWayName() (string, bool)        { return d.resolveWayRef(d.block.LastWayNameRef()) }
func (d *Decoder) LastWayHouseNumber() (string, bool) { return d.resolveWayRef(d.block.LastWayHouseNumberRef()) }
func (d *Decoder) LastWayRef() (string, bool)         { return d.resolveWayRef(d.block.LastWayRefRef()) }

func (d *Decoder) resolveWayRef(ref int32) (string, bool) {
	if ref < 0 {
		return "", false
	}
	s, err := d.ReadString(ref)
	if err != nil {
		sigolo.Warnf("mapfile: resolving way string reference %d: %v", ref, err)
		return "", false
	}
	return s, true
}

// ExecuteQuery decodes every block covering t and drives cb with the
// POIs and ways found, in file order. It never propagates a decode
// error to the caller: per-block/per-record failures are logged and
// iteration continues with the next block, while failures that make the
// rest of the query unreadable (a bad index entry, a block outside the
// file, a failed read) are logged and end the query early; the only
// error this returns is "no file open".
func (d *Decoder) ExecuteQuery(t tile.Tile, cb Callback) error {
	if d.header == nil {
		return errors.New("no file open")
	}

	queryZoomLevel := d.header.GetQueryZoomLevel(t.Zoom)
	sub, ok := d.header.GetSubFileParameter(queryZoomLevel)
	if !ok {
		sigolo.Warnf("mapfile: no sub-file covers query zoom level %d", queryZoomLevel)
		return nil
	}

	params := query.CalculateBaseTiles(t, sub)
	params.QueryZoomLevel = queryZoomLevel

	visitedAny := false
	allWater := true

	for row := params.FromBlockY; row <= params.ToBlockY; row++ {
		for column := params.FromBlockX; column <= params.ToBlockX; column++ {
			water, err := d.processBlockAt(sub, row, column, queryZoomLevel, params, cb)
			if err != nil {
				sigolo.Warnf("mapfile: aborting query: %v", err)
				return nil
			}
			if water != nil {
				visitedAny = true
				allWater = allWater && *water
			}
		}
	}

	if d.options.SynthesizeWaterBackground && visitedAny && allWater {
		d.renderWaterBackground(t, cb)
	}

	return nil
}

// processBlockAt handles one (row, column) block of sub: index lookup,
// block-size computation, seek + read, tile-origin projection and
// handoff to BlockDecoder.ProcessBlock. Returns (waterFlag, nil) for a
// block that was actually decoded (nil water means "not applicable",
// e.g. an empty block), or a non-nil error only for conditions that
// make the whole query unrecoverable (a corrupt index); per-block
// failures are logged and reported as (nil, nil) so the caller moves on
// to the next block.
func (d *Decoder) processBlockAt(sub *header.SubFileParameter, row, column uint32, queryZoomLevel uint8, params query.Parameters, cb Callback) (*bool, error) {
	blockNumber := int64(row)*int64(sub.BlocksWidth) + int64(column)

	entry, err := d.index.GetIndexEntry(sub, blockNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "reading index entry for block %d", blockNumber)
	}
	blockPointer := cache.Offset(entry)
	water := cache.IsWater(entry)

	if blockPointer < 1 || blockPointer > sub.SubFileSize {
		return nil, errors.Errorf("block %d has invalid offset %d (sub-file size %d)", blockNumber, blockPointer, sub.SubFileSize)
	}

	var nextBlockPointer int64
	if blockNumber+1 == sub.NumberOfBlocks {
		nextBlockPointer = sub.SubFileSize
	} else {
		nextEntry, err := d.index.GetIndexEntry(sub, blockNumber+1)
		if err != nil {
			return nil, errors.Wrapf(err, "reading index entry for block %d", blockNumber+1)
		}
		nextBlockPointer = cache.Offset(nextEntry)
	}

	blockSize := nextBlockPointer - blockPointer
	if blockSize == 0 {
		return nil, nil
	}
	if blockSize < 0 {
		return nil, errors.Errorf("block %d has negative size %d", blockNumber, blockSize)
	}
	if blockSize > mio.MaximumBufferSize {
		sigolo.Warnf("mapfile: block %d size %d exceeds maximum buffer size, skipping", blockNumber, blockSize)
		return nil, nil
	}

	mapFileInfo, err := d.header.GetMapFileInfo()
	if err != nil {
		return nil, err
	}
	if blockPointer+blockSize > mapFileInfo.FileSize {
		return nil, errors.Errorf("block %d extends past end of file", blockNumber)
	}

	if err := d.buffer.ReadFromFile(sub.StartAddress+blockPointer, int(blockSize)); err != nil {
		return nil, errors.Wrapf(err, "reading block %d", blockNumber)
	}

	tileLat := microDegrees(mercator.TileYToLatitude(sub.BoundaryTileTop+row, sub.BaseZoomLevel))
	tileLon := microDegrees(mercator.TileXToLongitude(sub.BoundaryTileLeft+column, sub.BaseZoomLevel))

	if err := d.block.ProcessBlock(queryZoomLevel, sub.ZoomLevelMin, sub.ZoomLevelMax, tileLat, tileLon, params.UseTileBitmask, params.QueryTileBitmask, cb); err != nil {
		sigolo.Warnf("mapfile: skipping block %d: %v", blockNumber, err)
		return nil, nil
	}

	return &water, nil
}

// renderWaterBackground emits one synthetic RenderWay covering t's own
// boundary ring, tagged with options.WaterTag, per the
// SynthesizeWaterBackground option.
func (d *Decoder) renderWaterBackground(t tile.Tile, cb Callback) {
	top := microDegrees(mercator.TileYToLatitude(t.Y, t.Zoom))
	bottom := microDegrees(mercator.TileYToLatitude(t.Y+1, t.Zoom))
	left := microDegrees(mercator.TileXToLongitude(t.X, t.Zoom))
	right := microDegrees(mercator.TileXToLongitude(t.X+1, t.Zoom))

	coords := []float32{
		float32(left), float32(top),
		float32(right), float32(top),
		float32(right), float32(bottom),
		float32(left), float32(bottom),
		float32(left), float32(top),
	}
	cb.RenderWay(0, []header.Tag{d.options.WaterTag}, coords, []int32{int32(len(coords))}, true)
}

func microDegrees(degrees float64) int32 {
	return int32(math.Round(degrees * 1_000_000))
}
