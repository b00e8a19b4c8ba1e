package mapfile

import (
	"testing"

	"mapsforge/header"
	"mapsforge/util"
)

// One POI, no features. Expect exactly one renderPointOfInterest
// (layer=-5, lat=tileLat, lon=tileLon, tags=[]).
func TestBlockDecoder_onePOINoFeatures(t *testing.T) {
	zoomRow := buildZoomTableRow(1, 0)
	poi := buildPOI(0, 0, 0x00, nil, 0x00, nil)
	emptyWaySection := encodeUnsignedInt(0) // stringsSize=0, zero ways follow
	block := buildBlock(zoomRow, poi, emptyWaySection)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 1_000_000, 2_000_000, false, 0, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.pois))
	util.AssertEqual(t, int8(-5), cb.pois[0].layer)
	util.AssertEqual(t, int32(1_000_000), cb.pois[0].lat)
	util.AssertEqual(t, int32(2_000_000), cb.pois[0].lon)
	util.AssertEqual(t, 0, len(cb.pois[0].tags))
	util.AssertEqual(t, 0, len(cb.ways))
}

// One way, single-delta, two nodes. Expect one renderWay with coords
// [tileLon+200, tileLat+100, tileLon+275, tileLat+150] and lengths=[4].
func TestBlockDecoder_oneWaySingleDeltaTwoNodes(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 1)
	payload := buildSingleCoordinateBlock([]int32{100, 200, 50, 75})
	way := buildWay(0x0000, 0x00, nil, 0x00, payload)
	wayBytes := append(encodeUnsignedInt(0), way...)
	block := buildBlock(zoomRow, nil, wayBytes)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, false, 0, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.ways))
	util.AssertEqual(t, []int32{4}, cb.ways[0].lengths)
	util.AssertEqual(t, []float32{200, 100, 275, 150}, cb.ways[0].coords)
}

// Double-delta with three nodes, secondary deltas [0,0, 10,10, 0,0].
// Expect a straight line of equal steps.
func TestBlockDecoder_doubleDeltaThreeNodes(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 1)
	payload := buildSingleCoordinateBlock([]int32{0, 0, 10, 10, 0, 0})
	way := buildWay(0x0000, 0x00, nil, featureWayDoubleDeltaEncoding, payload)
	wayBytes := append(encodeUnsignedInt(0), way...)
	block := buildBlock(zoomRow, nil, wayBytes)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 5_000, 9_000, false, 0, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.ways))
	util.AssertEqual(t, []float32{9000, 5000, 9010, 5010, 9020, 5020}, cb.ways[0].coords)
}

// Two ways with sub-tile masks 0x0001 and 0x8000, query bitmask 0x8000.
// Expect exactly one renderWay, for the second way.
func TestBlockDecoder_wayBitmaskSkip(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 2)

	skippedWay := buildWay(0x0001, 0x00, nil, 0x00, []byte{0xAA, 0xBB, 0xCC})
	keptPayload := buildSingleCoordinateBlock([]int32{0, 0, 0, 0})
	keptWay := buildWay(0x8000, 0x00, nil, 0x00, keptPayload)

	wayBytes := encodeUnsignedInt(0)
	wayBytes = append(wayBytes, skippedWay...)
	wayBytes = append(wayBytes, keptWay...)
	block := buildBlock(zoomRow, nil, wayBytes)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, true, 0x8000, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.ways))
	util.AssertEqual(t, 0, len(cb.ways[0].tags))
	util.AssertFalse(t, cb.ways[0].tagsChanged)
}

// With Options.Debug set, every way carries a fixed-width signature
// immediately before its size field. The signature must be consumed
// before the tile-bitmask skip decision runs, or the skip logic misreads
// signature bytes as a way size and tile mask. A single way whose own
// mask matches the query mask exercises exactly that ordering.
func TestBlockDecoder_debugSignatureWithTileBitmask(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 1)
	keptPayload := buildSingleCoordinateBlock([]int32{0, 0, 0, 0})
	keptWay := append(buildWaySignature(), buildWay(0x8000, 0x00, nil, 0x00, keptPayload)...)

	wayBytes := append(encodeUnsignedInt(0), keptWay...)
	block := append(buildBlockSignature(), buildBlock(zoomRow, nil, wayBytes)...)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{Debug: true})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, true, 0x8000, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.ways))
	util.AssertEqual(t, []int32{4}, cb.ways[0].lengths)
}

// A way skipped by the tile bitmask filter still has its tags decoded
// once its position is known, so a kept way immediately following it
// that carries no tags of its own (tagCount 0) renders the skipped
// way's tags rather than an empty array.
func TestBlockDecoder_skippedWayTagsCarryToZeroTagKeptWay(t *testing.T) {
	wayTags := []header.Tag{{Key: "highway", Value: "primary"}}

	zoomRow := buildZoomTableRow(0, 2)

	skippedWay := buildWay(0x0001, 0x51, []uint32{0}, 0x00, []byte{0xAA, 0xBB, 0xCC})
	keptPayload := buildSingleCoordinateBlock([]int32{0, 0, 0, 0})
	keptWay := buildWay(0x8000, 0x50, nil, 0x00, keptPayload)

	wayBytes := encodeUnsignedInt(0)
	wayBytes = append(wayBytes, skippedWay...)
	wayBytes = append(wayBytes, keptWay...)
	block := buildBlock(zoomRow, nil, wayBytes)

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, wayTags, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, true, 0x8000, cb)
	util.AssertNil(t, err)

	util.AssertEqual(t, 1, len(cb.ways))
	util.AssertEqual(t, wayTags, cb.ways[0].tags)
	// First way of the sequence: the previously decoded tag array was
	// nil, so this is still reported as a change even though it was
	// carried forward from a skipped way rather than decoded fresh.
	util.AssertTrue(t, cb.ways[0].tagsChanged)
}

// An invalid zoom-table cumulative count (>65536) aborts the block being
// decoded; a well-formed block decoded afterwards through a fresh call
// still succeeds (the decoder carries no state that a rejected block
// could corrupt).
func TestBlockDecoder_invalidZoomTableCumulativeCount(t *testing.T) {
	badZoomRow := buildZoomTableRow(70_000, 0)
	badBlock := buildBlock(badZoomRow, nil, encodeUnsignedInt(0))

	buffer := loadBuffer(t, badBlock)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, false, 0, cb)
	util.AssertNotNil(t, err)
	util.AssertEqual(t, 0, len(cb.pois))
	util.AssertEqual(t, 0, len(cb.ways))

	goodZoomRow := buildZoomTableRow(1, 0)
	poi := buildPOI(0, 0, 0x00, nil, 0x00, nil)
	goodBlock := buildBlock(goodZoomRow, poi, encodeUnsignedInt(0))

	buffer2 := loadBuffer(t, goodBlock)
	decoder2 := NewBlockDecoder(buffer2, nil, nil, Options{})
	cb2 := &recordingCallback{}

	err = decoder2.ProcessBlock(10, 10, 10, 0, 0, false, 0, cb2)
	util.AssertNil(t, err)
	util.AssertEqual(t, 1, len(cb2.pois))
}

// A block whose declared zoom range does not include the requested query
// zoom level is rejected outright.
func TestBlockDecoder_queryZoomOutsideBlockRange(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 0)
	block := buildBlock(zoomRow, nil, encodeUnsignedInt(0))

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(12, 10, 10, 0, 0, false, 0, cb)
	util.AssertNotNil(t, err)
}

// ReadString resolves a way's string-pool reference only while its
// string pool is open, and fails loudly for an out-of-range offset.
func TestBlockDecoder_readStringOutOfRange(t *testing.T) {
	zoomRow := buildZoomTableRow(0, 0)
	block := buildBlock(zoomRow, nil, encodeUnsignedInt(0))

	buffer := loadBuffer(t, block)
	decoder := NewBlockDecoder(buffer, nil, nil, Options{})
	cb := &recordingCallback{}

	err := decoder.ProcessBlock(10, 10, 10, 0, 0, false, 0, cb)
	util.AssertNil(t, err)

	_, err = decoder.ReadString(0)
	util.AssertNotNil(t, err)
}
