package mapfile

import (
	"os"
	"testing"

	"mapsforge/header"
	mio "mapsforge/io"
	"mapsforge/util"
)

// The encode helpers below mirror the VBE-U/VBE-S encodings ReadBuffer
// decodes: 7 payload bits per byte with the high bit as continuation for
// both, and sign-and-magnitude (not zig-zag) with the terminating byte's
// bit 6 as sign for VBE-S. They exist purely to build synthetic block
// byte streams for these tests.

func encodeUnsignedInt(value uint32) []byte {
	var out []byte
	for {
		b := byte(value & 0x7F)
		value >>= 7
		if value != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func encodeSignedInt(value int32) []byte {
	negative := value < 0
	magnitude := value
	if negative {
		magnitude = -value
	}

	var bytes []byte
	for magnitude > 0x3F {
		bytes = append(bytes, byte(magnitude&0x7F))
		magnitude >>= 7
	}
	bytes = append(bytes, byte(magnitude))

	last := len(bytes) - 1
	if negative {
		bytes[last] |= 0x40
	}
	for i := 0; i < last; i++ {
		bytes[i] |= 0x80
	}
	return bytes
}

// buildZoomTableRow encodes a single-row zoom table (zoomLevelMin ==
// zoomLevelMax), i.e. just the (POIs, ways) delta pair.
func buildZoomTableRow(pois, ways uint32) []byte {
	return append(encodeUnsignedInt(pois), encodeUnsignedInt(ways)...)
}

// buildZoomTable encodes a multi-row zoom table as a sequence of
// (POIs, ways) delta pairs, one per zoomLevelMin..zoomLevelMax row.
func buildZoomTable(rows ...[2]uint32) []byte {
	var out []byte
	for _, row := range rows {
		out = append(out, encodeUnsignedInt(row[0])...)
		out = append(out, encodeUnsignedInt(row[1])...)
	}
	return out
}

// buildPOI assembles one POI record: signed lat/lon deltas, a flag byte,
// tag indices, a feature byte and any feature-conditional trailing bytes.
func buildPOI(latDelta, lonDelta int32, flag byte, tagIndices []uint32, feature byte, extra []byte) []byte {
	b := encodeSignedInt(latDelta)
	b = append(b, encodeSignedInt(lonDelta)...)
	b = append(b, flag)
	for _, idx := range tagIndices {
		b = append(b, encodeUnsignedInt(idx)...)
	}
	b = append(b, feature)
	b = append(b, extra...)
	return b
}

// buildWay assembles one way record with a self-consistent wayDataSize:
// the size prefix always equals 2 (the tile-bitmask short) plus the
// length of everything that follows it, regardless of the size field's
// own encoded width.
func buildWay(tileBitmask uint16, flag byte, tagIndices []uint32, feature byte, payload []byte) []byte {
	rest := []byte{flag}
	for _, idx := range tagIndices {
		rest = append(rest, encodeUnsignedInt(idx)...)
	}
	rest = append(rest, feature)
	rest = append(rest, payload...)

	wayDataSize := uint32(2 + len(rest))
	out := encodeUnsignedInt(wayDataSize)
	out = append(out, byte(tileBitmask>>8), byte(tileBitmask))
	out = append(out, rest...)
	return out
}

// buildSingleCoordinateBlock assembles the payload of a way's single
// coordinate data block: a coordinate-block count of 1, the given node
// count and its signed VBE deltas.
func buildSingleCoordinateBlock(deltas []int32) []byte {
	b := encodeUnsignedInt(1)
	b = append(b, encodeUnsignedInt(uint32(len(deltas)/2))...)
	for _, d := range deltas {
		b = append(b, encodeSignedInt(d)...)
	}
	return b
}

// buildWaySignature pads waySignaturePrefix out to signatureLengthWay
// bytes, the fixed-width marker ProcessBlock expects immediately before
// every way record when Options.Debug is set.
func buildWaySignature() []byte {
	sig := make([]byte, signatureLengthWay)
	copy(sig, waySignaturePrefix)
	return sig
}

// buildBlockSignature pads blockSignaturePrefix out to
// signatureLengthBlock bytes, the fixed-width marker ProcessBlock
// expects at the very start of a block's bytes when Options.Debug is
// set.
func buildBlockSignature() []byte {
	sig := make([]byte, signatureLengthBlock)
	copy(sig, blockSignaturePrefix)
	return sig
}

// buildBlock assembles a full block body (no debug signature) from its
// zoom-table row, POI section and way section, computing the first-way
// offset so that it always lands exactly at the start of the way
// section, independent of the offset field's own encoded width.
func buildBlock(zoomRow []byte, poiBytes []byte, wayBytes []byte) []byte {
	offsetBytes := encodeUnsignedInt(uint32(len(poiBytes)))
	block := append([]byte{}, zoomRow...)
	block = append(block, offsetBytes...)
	block = append(block, poiBytes...)
	block = append(block, wayBytes...)
	return block
}

func loadBuffer(t *testing.T, data []byte) *mio.ReadBuffer {
	t.Helper()
	file, err := os.CreateTemp("", "block_decoder_test")
	util.AssertNil(t, err)
	t.Cleanup(func() {
		file.Close()
		os.Remove(file.Name())
	})

	_, err = file.Write(data)
	util.AssertNil(t, err)

	buffer := mio.NewReadBuffer(file)
	err = buffer.ReadFromFile(0, len(data))
	util.AssertNil(t, err)
	return buffer
}

type poiCall struct {
	layer    int8
	lat, lon int32
	tags     []header.Tag
}

type wayCall struct {
	layer       int8
	tags        []header.Tag
	coords      []float32
	lengths     []int32
	tagsChanged bool
}

// recordingCallback implements Callback by copying every argument out of
// the shared scratch buffers it is handed, since BlockDecoder documents
// those as valid only for the duration of the call.
type recordingCallback struct {
	pois []poiCall
	ways []wayCall
}

func (r *recordingCallback) RenderPointOfInterest(layer int8, lat int32, lon int32, tags []header.Tag) {
	r.pois = append(r.pois, poiCall{
		layer: layer,
		lat:   lat,
		lon:   lon,
		tags:  append([]header.Tag(nil), tags...),
	})
}

func (r *recordingCallback) RenderWay(layer int8, tags []header.Tag, coords []float32, lengths []int32, tagsChanged bool) {
	r.ways = append(r.ways, wayCall{
		layer:       layer,
		tags:        append([]header.Tag(nil), tags...),
		coords:      append([]float32(nil), coords...),
		lengths:     append([]int32(nil), lengths...),
		tagsChanged: tagsChanged,
	})
}
