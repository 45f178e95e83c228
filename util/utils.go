package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/twpayne/go-polyline"
)

var (
	RgxEmail = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
)

func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

func IsEmail(value string) bool {
	if len(value) > 254 {
		return false
	}

	return RgxEmail.MatchString(value)
}

// Coordinate represents a latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DecodePolyLines decodes a precision-5 encoded polyline into [lat, lon] pairs.
func DecodePolyLines(shape string) ([][]float64, error) {
	decoded, rest, err := polyline.DecodeCoords([]byte(shape))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}
	return decoded, nil
}

// EncodePolyLine encodes coordinates into a precision-5 polyline.
func EncodePolyLine(coords []Coordinate) string {
	pairs := make([][]float64, len(coords))
	for i, c := range coords {
		pairs[i] = []float64{c.Lat, c.Lon}
	}
	return string(polyline.EncodeCoords(pairs))
}

// RouteCoordinates decodes an activity route into coordinates.
func RouteCoordinates(shape string) ([]Coordinate, error) {
	decoded, err := DecodePolyLines(shape)
	if err != nil {
		return nil, err
	}
	coords := make([]Coordinate, len(decoded))
	for i, p := range decoded {
		coords[i] = Coordinate{Lat: p[0], Lon: p[1]}
	}
	return coords, nil
}
