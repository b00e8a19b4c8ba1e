package mapfile

import (
	"os"
	"testing"

	"mapsforge/cache"
	"mapsforge/header"
	mio "mapsforge/io"
	"mapsforge/tile"
	"mapsforge/util"
)

// packIndexEntry packs offset (and, optionally, the water flag) into the
// 5-byte big-endian representation IndexCache reads from disk.
func packIndexEntry(offset int64, water bool) []byte {
	var entry uint64 = uint64(offset)
	if water {
		entry |= 0x8000000000
	}
	out := make([]byte, 5)
	for i := 0; i < 5; i++ {
		out[4-i] = byte(entry >> uint(8*i))
	}
	return out
}

// newTestDecoder builds a Decoder over a temp file laid out as: an index
// region at offset 0, then block data starting at startAddress. It wires
// the Decoder's unexported fields directly (this file is an internal,
// white-box test) so tests don't need to fabricate a full FileHeader
// byte stream just to exercise ExecuteQuery's block-range/index-lookup
// logic.
func newTestDecoder(t *testing.T, fileData []byte, info header.MapFileInfo, subs []header.SubFileParameter, options Options) *Decoder {
	t.Helper()
	file, err := os.CreateTemp("", "decoder_test")
	util.AssertNil(t, err)
	t.Cleanup(func() {
		file.Close()
		os.Remove(file.Name())
	})

	_, err = file.Write(fileData)
	util.AssertNil(t, err)

	fh := header.NewFileHeader(info, subs)
	buffer := mio.NewReadBuffer(file)
	d := &Decoder{
		options: options,
		file:    file,
		header:  fh,
		buffer:  buffer,
		index:   cache.NewIndexCache(file),
	}
	mfi, _ := fh.GetMapFileInfo()
	d.block = NewBlockDecoder(buffer, mfi.POITags, mfi.WayTags, options)
	return d
}

// A sub-file with numberOfBlocks=1, entry offset=1, next pointer=1 (i.e.
// the same, since it is the last block) - blockSize 0. Expect
// ExecuteQuery makes zero render calls and returns no error.
func TestDecoder_emptyBlockMakesNoRenderCalls(t *testing.T) {
	index := packIndexEntry(1, false)
	fileData := index // no block bytes needed: blockSize will be 0

	sub := header.SubFileParameter{
		BaseZoomLevel:      10,
		ZoomLevelMin:       10,
		ZoomLevelMax:       10,
		StartAddress:       int64(len(index)),
		SubFileSize:        1, // equal to the block's own offset -> size 0
		IndexStartAddress:  0,
		BoundaryTileTop:    0,
		BoundaryTileLeft:   0,
		BoundaryTileBottom: 0,
		BoundaryTileRight:  0,
		BlocksWidth:        1,
		BlocksHeight:       1,
		NumberOfBlocks:     1,
	}
	info := header.MapFileInfo{FileSize: int64(len(fileData)), ZoomLevelMin: 10, ZoomLevelMax: 10}

	d := newTestDecoder(t, fileData, info, []header.SubFileParameter{sub}, Options{})
	cb := &recordingCallback{}

	err := d.ExecuteQuery(tile.Tile{X: 0, Y: 0, Zoom: 10}, cb)
	util.AssertNil(t, err)
	util.AssertEqual(t, 0, len(cb.pois))
	util.AssertEqual(t, 0, len(cb.ways))
}

// Full end-to-end form of the invalid-zoom-table case: one block with an
// invalid zoom-table cumulative count is skipped, and the next block in
// the same query is still decoded - no callback fires for the bad
// block, but the good block's POI still comes through.
func TestDecoder_invalidBlockSkippedNextBlockStillProcessed(t *testing.T) {
	badBlock := buildBlock(buildZoomTableRow(70_000, 0), nil, encodeUnsignedInt(0))

	// The sub-file spans zoom levels [9,11] (3 zoom-table rows); row 0
	// (query zoom 9) carries the one POI this test expects.
	goodZoomRow := buildZoomTable([2]uint32{1, 0}, [2]uint32{0, 0}, [2]uint32{0, 0})
	goodPOI := buildPOI(0, 0, 0x00, nil, 0x00, nil)
	goodBlock := buildBlock(goodZoomRow, goodPOI, encodeUnsignedInt(0))

	const startAddress = 64
	badOffset := int64(1)
	goodOffset := badOffset + int64(len(badBlock))
	subFileSize := goodOffset + int64(len(goodBlock))

	index := append(packIndexEntry(badOffset, false), packIndexEntry(goodOffset, false)...)

	fileData := make([]byte, startAddress+subFileSize)
	copy(fileData, index)
	copy(fileData[startAddress+badOffset:], badBlock)
	copy(fileData[startAddress+goodOffset:], goodBlock)

	sub := header.SubFileParameter{
		BaseZoomLevel:      11,
		ZoomLevelMin:       9,
		ZoomLevelMax:       11,
		StartAddress:       startAddress,
		SubFileSize:        subFileSize,
		IndexStartAddress:  0,
		BoundaryTileTop:    0,
		BoundaryTileLeft:   0,
		BoundaryTileBottom: 0,
		BoundaryTileRight:  1,
		BlocksWidth:        2,
		BlocksHeight:       1,
		NumberOfBlocks:     2,
	}
	info := header.MapFileInfo{FileSize: int64(len(fileData)), ZoomLevelMin: 9, ZoomLevelMax: 11}

	d := newTestDecoder(t, fileData, info, []header.SubFileParameter{sub}, Options{})
	cb := &recordingCallback{}

	err := d.ExecuteQuery(tile.Tile{X: 0, Y: 0, Zoom: 9}, cb)
	util.AssertNil(t, err)
	util.AssertEqual(t, 1, len(cb.pois))
	util.AssertEqual(t, 0, len(cb.ways))
}

// A block whose offset falls outside [1, subFileSize] is unrecoverable
// for the whole query: ExecuteQuery aborts without a callback, but still
// returns a nil error to the caller - the failure is logged and ends the
// query rather than propagated as a Go error return.
func TestDecoder_invalidBlockOffsetAbortsQuery(t *testing.T) {
	index := packIndexEntry(0, false) // offset 0 is invalid (means "empty" only via size 0, never a real pointer)
	fileData := index

	sub := header.SubFileParameter{
		BaseZoomLevel:  10,
		ZoomLevelMin:   10,
		ZoomLevelMax:   10,
		StartAddress:   int64(len(index)),
		SubFileSize:    10,
		BlocksWidth:    1,
		BlocksHeight:   1,
		NumberOfBlocks: 1,
	}
	info := header.MapFileInfo{FileSize: int64(len(fileData)), ZoomLevelMin: 10, ZoomLevelMax: 10}

	d := newTestDecoder(t, fileData, info, []header.SubFileParameter{sub}, Options{})
	cb := &recordingCallback{}

	err := d.ExecuteQuery(tile.Tile{X: 0, Y: 0, Zoom: 10}, cb)
	util.AssertNil(t, err)
	util.AssertEqual(t, 0, len(cb.pois))
}
