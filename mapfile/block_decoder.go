package mapfile

import (
	"strings"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"mapsforge/header"
	mio "mapsforge/io"
)

const (
	signatureLengthBlock = 32
	signatureLengthPOI   = 32
	signatureLengthWay   = 32

	blockSignaturePrefix = "###TileStart"
	poiSignaturePrefix   = "***POIStart"
	waySignaturePrefix   = "---WayStart"
)

const (
	featurePOIName         = 0x80
	featurePOIHouseNumber  = 0x40
	featurePOIElevation    = 0x20
	layerNibbleBias        = 5
	maxZoomTableCumulative = 65536
	maxWayCoordinateBlocks = 32767
)

const (
	featureWayName                = 0x80
	featureWayHouseNumber         = 0x40
	featureWayRef                 = 0x20
	featureWayLabelPosition       = 0x10
	featureWayDataBlocksByte      = 0x08
	featureWayDoubleDeltaEncoding = 0x04
)

// zoomTableRow is one (cumulative POI count, cumulative way count) entry
// of a block's per-zoom-level lookup table.
type zoomTableRow struct {
	POIs int32
	Ways int32
}

// LabelPosition is a way's optional label anchor, decoded as an offset
// from the tile origin like any other coordinate field.
type LabelPosition struct {
	Lat, Lon int32
}

// BlockDecoder parses one already-buffered block and drives a Callback.
// It owns the zoom-table, coordinate-delta and geometry output buffers and
// reuses them across blocks and queries; tag arrays are still allocated
// per record by ReadBuffer.ReadTags. Not safe for concurrent use - matches the package's
// single-caller-at-a-time contract.
type BlockDecoder struct {
	buffer  *mio.ReadBuffer
	poiTags []header.Tag
	wayTags []header.Tag
	options Options

	zoomTable []zoomTableRow

	deltaScratch  []int32
	outputCoords  []float32
	outputLengths []int32

	stringPoolOpen bool
	stringPoolBase int
	stringPoolSize int

	lastWayTags []header.Tag

	lastPOIName         string
	lastPOIHasName      bool
	lastPOIHouseNumber  string
	lastPOIHasHouseNum  bool
	lastPOIElevation    int32
	lastPOIHasElevation bool

	lastWayNameRef        int32
	lastWayHouseNumberRef int32
	lastWayRefRef         int32
	lastWayLabel          LabelPosition
	lastWayHasLabel       bool

	lastBlockSignature string
	lastWaySignature   string
}

// NewBlockDecoder builds a decoder for blocks whose POI/way records index
// into poiTags/wayTags, configured per options.
func NewBlockDecoder(buffer *mio.ReadBuffer, poiTags, wayTags []header.Tag, options Options) *BlockDecoder {
	capacity := options.ScratchCapacity
	if capacity <= 0 {
		capacity = DefaultScratchCapacity
	}
	return &BlockDecoder{
		buffer:                buffer,
		poiTags:               poiTags,
		wayTags:               wayTags,
		options:               options,
		outputCoords:          make([]float32, 0, capacity),
		outputLengths:         make([]int32, 0, 64),
		lastWayNameRef:        -1,
		lastWayHouseNumberRef: -1,
		lastWayRefRef:         -1,
	}
}

// LastPOIName, LastPOIHouseNumber and LastPOIElevation expose the POI
// record's optional fields for the duration of the RenderPointOfInterest
// call that just fired - RenderPointOfInterest itself only carries
// layer/lat/lon/tags, so these are read as decoder state.
func (b *BlockDecoder) LastPOIName() (string, bool)        { return b.lastPOIName, b.lastPOIHasName }
func (b *BlockDecoder) LastPOIHouseNumber() (string, bool) { return b.lastPOIHouseNumber, b.lastPOIHasHouseNum }
func (b *BlockDecoder) LastPOIElevation() (int32, bool)    { return b.lastPOIElevation, b.lastPOIHasElevation }

// LastWayNameRef, LastWayHouseNumberRef and LastWayRefRef return byte
// offsets into the current way-sequence's string pool, or -1 if the
// corresponding feature bit was not set on the way just rendered. Resolve
// them with (*Decoder).ReadString during the RenderWay call they belong
// to.
func (b *BlockDecoder) LastWayNameRef() int32        { return b.lastWayNameRef }
func (b *BlockDecoder) LastWayHouseNumberRef() int32 { return b.lastWayHouseNumberRef }
func (b *BlockDecoder) LastWayRefRef() int32         { return b.lastWayRefRef }
func (b *BlockDecoder) LastWayLabelPosition() (LabelPosition, bool) {
	return b.lastWayLabel, b.lastWayHasLabel
}

// ReadString resolves ref - a byte offset into the current way
// sequence's string pool, as handed to a Callback via LastWayNameRef and
// friends - to the string it names. Valid only synchronously within the
// RenderWay call that produced ref; see the Callback doc comment.
func (b *BlockDecoder) ReadString(ref int32) (string, error) {
	return b.resolveString(ref)
}

// resolveString resolves ref as a byte offset into the current way
// sequence's string pool. The pool is open from the processWays call that
// reads it until the next ProcessBlock call closes it.
func (b *BlockDecoder) resolveString(ref int32) (string, error) {
	if !b.stringPoolOpen {
		return "", errors.New("no string pool is open on this block")
	}
	if ref < 0 || int(ref) >= b.stringPoolSize {
		return "", errors.Errorf("string reference %d out of range for pool of size %d", ref, b.stringPoolSize)
	}
	return b.buffer.ReadUTF8EncodedStringAt(b.stringPoolBase + int(ref))
}

// ProcessBlock decodes the buffer (already positioned at the start of a
// block's bytes) against the given zoom range, tile origin and query
// plan, driving cb. tileLat/tileLon are the block's tile-origin
// latitude/longitude in micro-degrees. Returns an error only for
// conditions that should abort this block (the caller continues with the
// next block); per-record failures are logged internally and cause
// early-exit of the POI or way sequence they occurred in, not the whole
// block.
func (b *BlockDecoder) ProcessBlock(queryZoomLevel, zoomLevelMin, zoomLevelMax uint8, tileLat, tileLon int32, useTileBitmask bool, queryTileBitmask uint16, cb Callback) error {
	b.stringPoolOpen = false

	if b.options.Debug {
		sig, err := b.buffer.ReadUTF8EncodedStringFixed(signatureLengthBlock)
		if err != nil {
			return errors.Wrap(err, "reading block signature")
		}
		if !strings.HasPrefix(sig, blockSignaturePrefix) {
			return errors.Errorf("invalid block signature %q", sig)
		}
		b.lastBlockSignature = sig
	}

	if err := b.readZoomTable(zoomLevelMin, zoomLevelMax); err != nil {
		return errors.Wrap(err, "reading zoom table")
	}
	if queryZoomLevel < zoomLevelMin || queryZoomLevel > zoomLevelMax {
		return errors.Errorf("query zoom level %d outside block zoom range [%d, %d]", queryZoomLevel, zoomLevelMin, zoomLevelMax)
	}
	row := b.zoomTable[int(queryZoomLevel-zoomLevelMin)]

	rawOffset, err := b.buffer.ReadUnsignedInt()
	if err != nil {
		return errors.Wrap(err, "reading first-way offset")
	}
	firstWayOffset := int(rawOffset) + b.buffer.Position()
	if firstWayOffset > b.buffer.Size() {
		return errors.Errorf("first-way offset %d exceeds buffer size %d", firstWayOffset, b.buffer.Size())
	}

	b.processPOIs(int(row.POIs), tileLat, tileLon, cb)
	if b.buffer.Position() > firstWayOffset {
		return errors.Errorf("POI sequence overran first-way offset: cursor %d > %d", b.buffer.Position(), firstWayOffset)
	}

	b.buffer.SetPosition(firstWayOffset)
	return b.processWays(int(row.Ways), tileLat, tileLon, useTileBitmask, queryTileBitmask, cb)
}

// readZoomTable reads (zoomLevelMax-zoomLevelMin+1) rows of per-row
// (POI count, way count) deltas and accumulates them into cumulative
// totals - each row's VBE-U values are deltas added to a running sum,
// not the cumulative total itself.
func (b *BlockDecoder) readZoomTable(zoomLevelMin, zoomLevelMax uint8) error {
	rows := int(zoomLevelMax) - int(zoomLevelMin) + 1
	if rows <= 0 {
		return errors.Errorf("invalid zoom range [%d, %d]", zoomLevelMin, zoomLevelMax)
	}
	if cap(b.zoomTable) < rows {
		b.zoomTable = make([]zoomTableRow, rows)
	} else {
		b.zoomTable = b.zoomTable[:rows]
	}

	var cumPOIs, cumWays int32
	for i := 0; i < rows; i++ {
		poisDelta, err := b.buffer.ReadUnsignedInt()
		if err != nil {
			return err
		}
		waysDelta, err := b.buffer.ReadUnsignedInt()
		if err != nil {
			return err
		}
		cumPOIs += poisDelta
		cumWays += waysDelta
		if cumPOIs < 0 || cumPOIs > maxZoomTableCumulative {
			return errors.Errorf("invalid cumulated number of POIs in row %d: %d", i, cumPOIs)
		}
		if cumWays < 0 || cumWays > maxZoomTableCumulative {
			return errors.Errorf("invalid cumulated number of ways in row %d: %d", i, cumWays)
		}
		b.zoomTable[i] = zoomTableRow{POIs: cumPOIs, Ways: cumWays}
	}
	return nil
}

func (b *BlockDecoder) processPOIs(n int, tileLat, tileLon int32, cb Callback) {
	for i := 0; i < n; i++ {
		if b.options.Debug {
			sig, err := b.buffer.ReadUTF8EncodedStringFixed(signatureLengthPOI)
			if err != nil || !strings.HasPrefix(sig, poiSignaturePrefix) {
				sigolo.Warnf("mapfile: invalid POI signature at record %d/%d: %v", i, n, err)
				return
			}
		}

		latDelta, err := b.buffer.ReadSignedInt()
		if err != nil {
			sigolo.Warnf("mapfile: reading POI latitude at record %d/%d: %v", i, n, err)
			return
		}
		lonDelta, err := b.buffer.ReadSignedInt()
		if err != nil {
			sigolo.Warnf("mapfile: reading POI longitude at record %d/%d: %v", i, n, err)
			return
		}
		lat := tileLat + latDelta
		lon := tileLon + lonDelta

		flag, err := b.buffer.ReadByte()
		if err != nil {
			sigolo.Warnf("mapfile: reading POI flag byte at record %d/%d: %v", i, n, err)
			return
		}
		layer := int8((uint8(flag)>>4)&0x0F) - layerNibbleBias
		tagCount := int(uint8(flag) & 0x0F)

		tags, err := b.buffer.ReadTags(b.poiTags, tagCount)
		if err != nil {
			sigolo.Warnf("mapfile: reading POI tags at record %d/%d: %v", i, n, err)
			return
		}

		feature, err := b.buffer.ReadByte()
		if err != nil {
			sigolo.Warnf("mapfile: reading POI feature byte at record %d/%d: %v", i, n, err)
			return
		}
		ft := uint8(feature)
		b.lastPOIHasName, b.lastPOIHasHouseNum, b.lastPOIHasElevation = false, false, false

		if ft&featurePOIName != 0 {
			name, err := b.buffer.ReadUTF8EncodedString()
			if err != nil {
				sigolo.Warnf("mapfile: reading POI name at record %d/%d: %v", i, n, err)
				return
			}
			b.lastPOIName, b.lastPOIHasName = name, true
		}
		if ft&featurePOIHouseNumber != 0 {
			houseNumber, err := b.buffer.ReadUTF8EncodedString()
			if err != nil {
				sigolo.Warnf("mapfile: reading POI house number at record %d/%d: %v", i, n, err)
				return
			}
			b.lastPOIHouseNumber, b.lastPOIHasHouseNum = houseNumber, true
		}
		if ft&featurePOIElevation != 0 {
			elevation, err := b.buffer.ReadSignedInt()
			if err != nil {
				sigolo.Warnf("mapfile: reading POI elevation at record %d/%d: %v", i, n, err)
				return
			}
			b.lastPOIElevation, b.lastPOIHasElevation = elevation, true
		}

		cb.RenderPointOfInterest(layer, lat, lon, tags)
	}
}

// processWays reads the way-sequence string pool and then the n ways that
// follow.
func (b *BlockDecoder) processWays(n int, tileLat, tileLon int32, useTileBitmask bool, queryTileBitmask uint16, cb Callback) error {
	stringsSize, err := b.buffer.ReadUnsignedInt()
	if err != nil {
		return errors.Wrap(err, "reading way strings size")
	}
	b.stringPoolBase = b.buffer.Position()
	b.stringPoolSize = int(stringsSize)
	b.stringPoolOpen = true
	if err := b.buffer.SkipBytes(int(stringsSize)); err != nil {
		return errors.Wrap(err, "skipping way string pool")
	}

	b.lastWayTags = nil

	remaining := n
	for remaining > 0 {
		if b.options.Debug {
			sig, err := b.buffer.ReadUTF8EncodedStringFixed(signatureLengthWay)
			if err != nil || !strings.HasPrefix(sig, waySignaturePrefix) {
				sigolo.Warnf("mapfile: invalid way signature, aborting way sequence: %v", err)
				return nil
			}
			b.lastWaySignature = sig
		}

		var skippedTags []header.Tag
		haveSkippedTags := false

		if useTileBitmask {
			newRemaining, lastTagPosition, err := b.buffer.SkipWays(queryTileBitmask, remaining)
			if err != nil {
				return errors.Wrap(err, "skipping non-matching ways")
			}
			if newRemaining == 0 {
				return nil
			}
			remaining = newRemaining

			if lastTagPosition != 0 {
				skippedTags, haveSkippedTags, err = b.readSkippedWayTags(lastTagPosition)
				if err != nil {
					return errors.Wrap(err, "re-decoding skipped way's tags")
				}
			}
		}

		posAfterSize, wayDataSize, err := b.readWaySizeAndBitmask()
		if err != nil {
			return errors.Wrap(err, "reading way data size")
		}
		wayEnd := posAfterSize + int(wayDataSize)

		flag, err := b.buffer.ReadByte()
		if err != nil {
			return errors.Wrap(err, "reading way flag byte")
		}
		layer := int8((uint8(flag)>>4)&0x0F) - layerNibbleBias
		tagCount := int(uint8(flag) & 0x0F)

		var tags []header.Tag
		if tagCount != 0 {
			tags, err = b.buffer.ReadTags(b.wayTags, tagCount)
			if err != nil {
				sigolo.Warnf("mapfile: reading way tags, aborting way sequence: %v", err)
				return nil
			}
		} else if haveSkippedTags {
			tags = skippedTags
		} else {
			tags = b.lastWayTags
		}
		tagsChanged := !tagsEqual(b.lastWayTags, tags)
		b.lastWayTags = tags

		feature, err := b.buffer.ReadByte()
		if err != nil {
			return errors.Wrap(err, "reading way feature byte")
		}
		ft := uint8(feature)

		b.lastWayNameRef, b.lastWayHouseNumberRef, b.lastWayRefRef = -1, -1, -1
		b.lastWayHasLabel = false

		if ft&featureWayName != 0 {
			ref, err := b.buffer.ReadUnsignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way name ref")
			}
			b.lastWayNameRef = ref
		}
		if ft&featureWayHouseNumber != 0 {
			ref, err := b.buffer.ReadUnsignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way house number ref")
			}
			b.lastWayHouseNumberRef = ref
		}
		if ft&featureWayRef != 0 {
			ref, err := b.buffer.ReadUnsignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way ref ref")
			}
			b.lastWayRefRef = ref
		}
		if ft&featureWayLabelPosition != 0 {
			dLat, err := b.buffer.ReadSignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way label latitude")
			}
			dLon, err := b.buffer.ReadSignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way label longitude")
			}
			b.lastWayLabel = LabelPosition{Lat: tileLat + dLat, Lon: tileLon + dLon}
			b.lastWayHasLabel = true
		}

		dataBlocks := int32(1)
		if ft&featureWayDataBlocksByte != 0 {
			dataBlocks, err = b.buffer.ReadUnsignedInt()
			if err != nil {
				return errors.Wrap(err, "reading way data blocks count")
			}
			if dataBlocks < 1 {
				sigolo.Warnf("mapfile: invalid number of way data blocks %d, aborting way sequence", dataBlocks)
				return nil
			}
		}

		doubleDelta := ft&featureWayDoubleDeltaEncoding != 0

		aborted := false
		for i := int32(0); i < dataBlocks; i++ {
			b.outputCoords = b.outputCoords[:0]
			b.outputLengths = b.outputLengths[:0]
			if err := b.processWayDataBlock(doubleDelta, tileLat, tileLon); err != nil {
				sigolo.Warnf("mapfile: way data block %d/%d: %v", i, dataBlocks, err)
				aborted = true
				break
			}
			if b.buffer.Position() > wayEnd {
				sigolo.Warnf("mapfile: way record overran its declared size (%d > %d), aborting way sequence", b.buffer.Position(), wayEnd)
				aborted = true
				break
			}
			cb.RenderWay(layer, tags, b.outputCoords, b.outputLengths, tagsChanged)
		}
		if aborted {
			return nil
		}

		remaining--
	}
	return nil
}

// readSkippedWayTags decodes the tag array of a way that SkipWays just
// skipped over, so a subsequent kept way whose own tag count is zero can
// inherit it instead of rendering a fresh, empty one. It reports
// hadTags=false when the skipped way's own tag count was zero - that way
// carried forward whatever tags preceded it rather than owning any of
// its own, so the caller should fall back to its own last-decoded tags
// instead. The cursor is restored to its position before this call,
// since the caller is mid-way through the kept way that follows.
func (b *BlockDecoder) readSkippedWayTags(flagBytePosition int) (tags []header.Tag, hadTags bool, err error) {
	resumePosition := b.buffer.Position()
	defer b.buffer.SetPosition(resumePosition)

	b.buffer.SetPosition(flagBytePosition)
	flag, err := b.buffer.ReadByte()
	if err != nil {
		return nil, false, err
	}
	tagCount := int(uint8(flag) & 0x0F)
	if tagCount == 0 {
		return nil, false, nil
	}

	tags, err = b.buffer.ReadTags(b.wayTags, tagCount)
	if err != nil {
		return nil, false, err
	}
	return tags, true, nil
}

// tagsEqual reports whether a and b hold the same tags in the same order.
func tagsEqual(a, b []header.Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// readWaySizeAndBitmask reads a way's VBE-U data size followed by its
// 16-bit tile bitmask (discarded here - it has already been checked by
// SkipWays when a tile bitmask filter is active). Returns the buffer
// position immediately after the size field, the value needed to compute
// the upper bound on the way record that follows.
func (b *BlockDecoder) readWaySizeAndBitmask() (int, int32, error) {
	wayDataSize, err := b.buffer.ReadUnsignedInt()
	if err != nil {
		return 0, 0, err
	}
	posAfterSize := b.buffer.Position()
	if _, err := b.buffer.ReadShort(); err != nil {
		return 0, 0, err
	}
	return posAfterSize, wayDataSize, nil
}

// logDebugSignatures reports the last-seen block and way debug
// signatures together, for diagnosing which record in a debug-signature
// file a validation failure belongs to. A no-op when the file carries no
// debug signatures (Options.Debug is false).
func (b *BlockDecoder) logDebugSignatures() {
	if !b.options.Debug {
		return
	}
	sigolo.Debugf("mapfile: last block signature %q, last way signature %q", b.lastBlockSignature, b.lastWaySignature)
}

func (b *BlockDecoder) processWayDataBlock(doubleDelta bool, tileLat, tileLon int32) error {
	numBlocks, err := b.buffer.ReadUnsignedInt()
	if err != nil {
		return err
	}
	if numBlocks < 1 || numBlocks > maxWayCoordinateBlocks {
		b.logDebugSignatures()
		return errors.Errorf("invalid number of way coordinate blocks: %d", numBlocks)
	}

	for block := int32(0); block < numBlocks; block++ {
		numNodes, err := b.buffer.ReadUnsignedInt()
		if err != nil {
			return err
		}
		if numNodes < 2 || numNodes > MaximumWayNodesSequenceLength {
			b.logDebugSignatures()
			return errors.Errorf("invalid number of way nodes: %d", numNodes)
		}

		length := int(numNodes) * 2
		if cap(b.deltaScratch) < length {
			b.deltaScratch = make([]int32, length)
		} else {
			b.deltaScratch = b.deltaScratch[:length]
		}
		if err := b.buffer.ReadSignedIntsInto(b.deltaScratch, length); err != nil {
			return err
		}

		var count int
		if doubleDelta {
			count = b.decodeWayNodesDoubleDelta(length, tileLat, tileLon)
		} else {
			count = b.decodeWayNodesSingleDelta(length, tileLat, tileLon)
		}
		b.outputLengths = append(b.outputLengths, int32(count))
	}
	return nil
}

// decodeWayNodesSingleDelta decodes length deltas (already in
// b.deltaScratch) where every node after the first is a delta from its
// immediate predecessor, appending (lon, lat) pairs to b.outputCoords.
// Intermediate nodes whose step is smaller than the configured filter
// thresholds in both axes are elided; the first and last nodes are always
// kept.
func (b *BlockDecoder) decodeWayNodesSingleDelta(length int, tileLat, tileLon int32) int {
	d := b.deltaScratch
	minLat, minLon := b.options.MinFilterLat, b.options.MinFilterLon

	lat := tileLat + d[0]
	lon := tileLon + d[1]
	b.outputCoords = append(b.outputCoords, float32(lon), float32(lat))
	count := 2

	for pos := 2; pos < length; pos += 2 {
		nLat := lat + d[pos]
		dLat := nLat - lat
		lat = nLat

		nLon := lon + d[pos+1]
		dLon := nLon - lon
		lon = nLon

		if dLon >= minLon || dLon <= -minLon || dLat >= minLat || dLat <= -minLat || pos == length-2 {
			b.outputCoords = append(b.outputCoords, float32(lon), float32(lat))
			count += 2
		}
	}
	return count
}

// decodeWayNodesDoubleDelta is decodeWayNodesSingleDelta's counterpart for
// double-delta encoding: each node's delta is added to a running
// secondary delta before being applied, so a constant secondary delta of
// zero yields equal steps throughout (a straight line).
func (b *BlockDecoder) decodeWayNodesDoubleDelta(length int, tileLat, tileLon int32) int {
	d := b.deltaScratch
	minLat, minLon := b.options.MinFilterLat, b.options.MinFilterLon

	lat := tileLat + d[0]
	lon := tileLon + d[1]
	b.outputCoords = append(b.outputCoords, float32(lon), float32(lat))
	count := 2

	var secondaryLat, secondaryLon int32
	for pos := 2; pos < length; pos += 2 {
		secondaryLat += d[pos]
		nLat := lat + secondaryLat
		dLat := nLat - lat
		lat = nLat

		secondaryLon += d[pos+1]
		nLon := lon + secondaryLon
		dLon := nLon - lon
		lon = nLon

		if dLon >= minLon || dLon <= -minLon || dLat >= minLat || dLat <= -minLat || pos == length-2 {
			b.outputCoords = append(b.outputCoords, float32(lon), float32(lat))
			count += 2
		}
	}
	return count
}
