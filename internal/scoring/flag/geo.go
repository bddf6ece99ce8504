package flag

import (
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"math"
)

const earthRadiusKm = 6371.0

type mapConfig struct {
	Location json.RawMessage `json:"location"`
	Radius   json.RawMessage `json:"radius"`
}

type mapVerifier struct {
	parseIssue *model.ConfigIssue
	location   [2]float64
	locationOK bool
	radiusKm   float64
	radiusOK   bool
}

func newMap(metadata json.RawMessage, _ Env) Verifier {
	v := &mapVerifier{}
	var cfg mapConfig
	v.parseIssue = decodeMetadata(metadata, &cfg)
	v.location, v.locationOK = parsePoint(cfg.Location)
	if len(cfg.Radius) > 0 {
		v.radiusOK = json.Unmarshal(cfg.Radius, &v.radiusKm) == nil
	}
	return v
}

// parsePoint accepts a JSON array of exactly two numbers: [latitude, longitude].
func parsePoint(raw json.RawMessage) ([2]float64, bool) {
	var pair []float64
	if len(raw) == 0 || json.Unmarshal(raw, &pair) != nil || len(pair) != 2 {
		return [2]float64{}, false
	}
	return [2]float64{pair[0], pair[1]}, true
}

// Haversine returns the great-circle distance in kilometres between two
// [lat, lon] points given in degrees.
func Haversine(a, b [2]float64) float64 {
	lat1, lat2 := toRadians(a[0]), toRadians(b[0])
	dLat := lat2 - lat1
	dLon := toRadians(b[1] - a[1])

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func (v *mapVerifier) Check(submitted string, _ Context) bool {
	if !v.locationOK || !v.radiusOK {
		return false
	}
	point, ok := parsePoint(json.RawMessage(submitted))
	if !ok {
		return false
	}
	return Haversine(v.location, point) < v.radiusKm
}

func (v *mapVerifier) SelfCheck() []model.ConfigIssue {
	var found []model.ConfigIssue
	if !v.radiusOK {
		found = append(found, model.ConfigIssue{Field: "radius", Message: "radius is missing or not a number"})
	}
	if !v.locationOK {
		found = append(found, model.ConfigIssue{Field: "location", Message: "location must be a [latitude, longitude] array"})
	}
	return issues(v.parseIssue, found...)
}
