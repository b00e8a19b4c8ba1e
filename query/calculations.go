package query

import (
	"mapsforge/header"
	"mapsforge/tile"
)

// baseTileRectangle is a range of base-zoom tiles, inclusive on both
// ends, in the sub-file's own baseZoomLevel grid.
type baseTileRectangle struct {
	FromX, FromY uint32
	ToX, ToY     uint32
}

// CalculateBaseTiles determines the rectangle of the sub-file's
// base-zoom tiles that cover t, and whether a sub-tile bitmask is
// needed to further restrict ways within each of those base tiles.
func CalculateBaseTiles(t tile.Tile, sub *header.SubFileParameter) Parameters {
	params := Parameters{QueryZoomLevel: t.Zoom}

	switch {
	case t.Zoom < sub.BaseZoomLevel:
		zoomLevelDifference := sub.BaseZoomLevel - t.Zoom
		tiles := uint32(1) << zoomLevelDifference
		fromX := t.X * tiles
		fromY := t.Y * tiles
		params.FromBlockX, params.FromBlockY = fromX, fromY
		params.ToBlockX, params.ToBlockY = fromX+tiles-1, fromY+tiles-1
		params.UseTileBitmask = false

	case t.Zoom > sub.BaseZoomLevel:
		zoomLevelDifference := t.Zoom - sub.BaseZoomLevel
		baseX := t.X >> zoomLevelDifference
		baseY := t.Y >> zoomLevelDifference
		params.FromBlockX, params.FromBlockY = baseX, baseY
		params.ToBlockX, params.ToBlockY = baseX, baseY
		params.UseTileBitmask = true
		params.QueryTileBitmask = GetSubTileBitmask(t, sub.BaseZoomLevel)

	default:
		params.FromBlockX, params.FromBlockY = t.X, t.Y
		params.ToBlockX, params.ToBlockY = t.X, t.Y
		params.UseTileBitmask = false
	}

	return params.intersectBoundary(sub)
}

// intersectBoundary clips the base-tile rectangle to the sub-file's
// boundary and rewrites it into block coordinates relative to that
// boundary's top-left corner, clamped to a valid block index.
func (p Parameters) intersectBoundary(sub *header.SubFileParameter) Parameters {
	fromX := maxUint32(p.FromBlockX, sub.BoundaryTileLeft)
	fromY := maxUint32(p.FromBlockY, sub.BoundaryTileTop)
	toX := minUint32(p.ToBlockX, sub.BoundaryTileRight)
	toY := minUint32(p.ToBlockY, sub.BoundaryTileBottom)

	if fromX > toX || fromY > toY {
		// No overlap with the boundary: an empty range (From > To), so
		// the block loops run zero times.
		p.FromBlockX, p.ToBlockX = 1, 0
		p.FromBlockY, p.ToBlockY = 1, 0
		return p
	}

	p.FromBlockX = fromX - sub.BoundaryTileLeft
	p.FromBlockY = fromY - sub.BoundaryTileTop
	p.ToBlockX = toX - sub.BoundaryTileLeft
	p.ToBlockY = toY - sub.BoundaryTileTop
	return p
}

// GetSubTileBitmask builds the 16-bit mask over a 4x4 grid of
// base-tile quadrants (two zoom levels below baseZoom) touched by t,
// used to restrict way processing to the sub-tile the caller actually
// asked for. Bit (subY*4 + subX) corresponds to grid cell (subX, subY).
func GetSubTileBitmask(t tile.Tile, baseZoomLevel uint8) uint16 {
	const gridZoomOffset = 2
	gridZoom := baseZoomLevel + gridZoomOffset

	var mask uint16
	switch {
	case t.Zoom == gridZoom:
		mask = bitFor(t.X%4, t.Y%4)

	case t.Zoom > gridZoom:
		shift := t.Zoom - gridZoom
		gridX := (t.X >> shift) % 4
		gridY := (t.Y >> shift) % 4
		mask = bitFor(gridX, gridY)

	default: // baseZoomLevel < t.Zoom < gridZoom: covers multiple grid cells
		shift := gridZoom - t.Zoom
		cellsPerSide := uint32(1) << shift
		originX := (t.X << shift) % 4
		originY := (t.Y << shift) % 4
		for dy := uint32(0); dy < cellsPerSide; dy++ {
			for dx := uint32(0); dx < cellsPerSide; dx++ {
				mask |= bitFor((originX+dx)%4, (originY+dy)%4)
			}
		}
	}

	return mask
}

func bitFor(gridX, gridY uint32) uint16 {
	return 1 << uint(gridY*4+gridX)
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
