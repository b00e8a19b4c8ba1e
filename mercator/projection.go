// Package mercator is the pure-function geographic projection collaborator
// the decoder needs to turn a block's row/column into the tile-origin
// latitude/longitude it decodes coordinate deltas against. It is kept
// separate from the decode path and leans on the orb module's own
// spherical Web Mercator tile math rather than hand-rolled trigonometry.
package mercator

import "github.com/paulmach/orb/maptile"

// TileYToLatitude returns the latitude, in degrees, of the northern
// (top) edge of the tile at row y and the given zoom level.
func TileYToLatitude(y uint32, zoom uint8) float64 {
	return maptile.Tile{X: 0, Y: y, Z: maptile.Zoom(zoom)}.Bound().Max.Lat()
}

// TileXToLongitude returns the longitude, in degrees, of the western
// (left) edge of the tile at column x and the given zoom level.
func TileXToLongitude(x uint32, zoom uint8) float64 {
	return maptile.Tile{X: x, Y: 0, Z: maptile.Zoom(zoom)}.Bound().Min.Lon()
}
