package mapfile

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapsforge/header"
)

// GeoJSONCollector implements Callback by appending every POI/way it
// sees to a GeoJSON FeatureCollection, resolving each way's optional
// name/house-number/ref string-pool references through decoder as it
// goes: one geojson.Feature per input record, tags copied verbatim into
// Properties.
type GeoJSONCollector struct {
	decoder    *Decoder
	collection *geojson.FeatureCollection
}

func NewGeoJSONCollector(decoder *Decoder) *GeoJSONCollector {
	return &GeoJSONCollector{decoder: decoder, collection: geojson.NewFeatureCollection()}
}

func (c *GeoJSONCollector) Collection() *geojson.FeatureCollection {
	return c.collection
}

func (c *GeoJSONCollector) RenderPointOfInterest(layer int8, lat int32, lon int32, tags []header.Tag) {
	point := orb.Point{degrees(lon), degrees(lat)}
	feature := geojson.NewFeature(point)
	applyTags(feature, tags)
	feature.Properties["layer"] = layer

	if name, ok := c.decoder.LastPOIName(); ok {
		feature.Properties["name"] = name
	}
	if houseNumber, ok := c.decoder.LastPOIHouseNumber(); ok {
		feature.Properties["house_number"] = houseNumber
	}
	if elevation, ok := c.decoder.LastPOIElevation(); ok {
		feature.Properties["elevation"] = elevation
	}

	c.collection.Features = append(c.collection.Features, feature)
}

func (c *GeoJSONCollector) RenderWay(layer int8, tags []header.Tag, coords []float32, lengths []int32, tagsChanged bool) {
	lines := make([]orb.LineString, 0, len(lengths))
	offset := 0
	for _, length := range lengths {
		line := make(orb.LineString, 0, length/2)
		for i := 0; i < int(length); i += 2 {
			line = append(line, orb.Point{float64(coords[offset+i]) / 1e6, float64(coords[offset+i+1]) / 1e6})
		}
		lines = append(lines, line)
		offset += int(length)
	}

	var geometry orb.Geometry
	if len(lines) == 1 {
		geometry = lines[0]
	} else {
		geometry = orb.MultiLineString(lines)
	}

	feature := geojson.NewFeature(geometry)
	applyTags(feature, tags)
	feature.Properties["layer"] = layer

	if name, ok := c.decoder.LastWayName(); ok {
		feature.Properties["name"] = name
	}
	if houseNumber, ok := c.decoder.LastWayHouseNumber(); ok {
		feature.Properties["house_number"] = houseNumber
	}
	if ref, ok := c.decoder.LastWayRef(); ok {
		feature.Properties["ref"] = ref
	}

	c.collection.Features = append(c.collection.Features, feature)
}

func applyTags(feature *geojson.Feature, tags []header.Tag) {
	for _, tag := range tags {
		feature.Properties[tag.Key] = tag.Value
	}
}

func degrees(microDegrees int32) float64 {
	return float64(microDegrees) / 1e6
}
