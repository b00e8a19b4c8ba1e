package mapfile

import "mapsforge/header"

// DefaultScratchCapacity is the default size of the shared flat float32
// geometry buffer a BlockDecoder hands out sub-slices of via RenderWay.
// Matches the Java source's mWayNodePosition buffer, sized generously
// enough that a query rarely needs to grow it.
const DefaultScratchCapacity = 100_000

// MaximumWayNodesSequenceLength bounds a single coordinate block's node
// count to [2, 8192]; the int32 delta scratch array grows on demand up
// to twice this (lat and lon per node).
const MaximumWayNodesSequenceLength = 8192

// Options controls ExecuteQuery's optional, non-default behaviours.
// None of these change the meaning of a well-formed map file; they only
// affect synthetic fallback rendering and a filtering optimization that
// is disabled by default.
type Options struct {
	// Debug indicates the map file was built with debug-signature blocks
	// (32-byte "###TileStart"/"***POIStart"/"---WayStart" markers before
	// each block/POI/way record). Defaults to false.
	Debug bool

	// SynthesizeWaterBackground, when true, makes ExecuteQuery emit one
	// synthetic RenderWay call covering the requested tile's own boundary
	// ring, tagged with WaterTag, if every block visited for the query had
	// its index entry's water flag set. Disabled (false) by default,
	// since there is no universally correct default tag to stamp such a
	// polygon with.
	SynthesizeWaterBackground bool
	WaterTag                  header.Tag

	// MinFilterLat/MinFilterLon are small-node filtering thresholds: an
	// intermediate way node whose delta from its predecessor is smaller
	// than both thresholds (in micro-degrees) may be elided, provided the
	// first and last nodes of the coordinate block are always preserved.
	// Zero, the default, disables filtering entirely.
	MinFilterLat int32
	MinFilterLon int32

	// ScratchCapacity overrides DefaultScratchCapacity for the shared
	// geometry output buffer. Zero means "use the default".
	ScratchCapacity int
}
