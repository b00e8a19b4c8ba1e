// Package mapfile ties the query planner, the index cache and the block
// decoder together behind a small read-only surface:
// OpenFile/CloseFile/HasOpenFile/GetMapFileInfo/ExecuteQuery/ReadString.
// Everything downstream of a block read lives here.
package mapfile

import "mapsforge/header"

// Callback is the render sink a query is executed against. Implementations
// receive POIs and ways in file order - no reordering, no buffering beyond
// one block - and must not retain coords/lengths/tags beyond the call,
// since BlockDecoder reuses its scratch buffers on the next call.
//
// A way's name/house-number/ref field is carried as a byte offset into the
// current block's way string pool rather than a resolved string; an
// implementation that wants it calls (*Decoder).LastWayName and friends,
// or (*Decoder).ReadString with that offset, synchronously from within
// RenderWay. A POI's name and house number are read as length-prefixed
// strings inside the POI record itself, not as string-pool offsets, and
// are available from (*Decoder).LastPOIName/LastPOIHouseNumber during
// RenderPointOfInterest.
//
// The string pool is closed when the next block starts and reopened by
// that block's way sequence: a call made before a block's way sequence,
// or with an offset outside the pool, fails with an error, but a call
// made after RenderWay returns and before the next block starts still
// resolves against the current pool.
type Callback interface {
	RenderPointOfInterest(layer int8, lat int32, lon int32, tags []header.Tag)

	// RenderWay receives coords as interleaved (lon, lat) float32 pairs
	// across all of the way's coordinate blocks; lengths[i] is the number
	// of float32 values (not node pairs) contributed by block i. tagsChanged
	// is true when tags differs, key and value in order, from the tag array
	// of the previous way in the same way sequence (nil before the first
	// way), and false when it is the same; every data block of one way
	// gets the same value.
	RenderWay(layer int8, tags []header.Tag, coords []float32, lengths []int32, tagsChanged bool)
}
