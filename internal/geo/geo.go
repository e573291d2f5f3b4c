// Package geo wraps the H3 hexagonal hierarchical index for the
// hyperlocal feed. Listings, events and heat records carry cell ids at
// three fixed resolutions; queries expand a search radius into a cell
// disk at the resolution that best fits the radius.
package geo

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

// Fixed resolutions used across the data model.
const (
	ResBlock        = 9 // ~0.25 mi, block level
	ResNeighborhood = 8 // ~1 mi, neighborhood level
	ResDistrict     = 7 // ~3 mi, district level
)

const earthRadiusMiles = 3959.0

// radiusBracket maps a search radius in miles to a resolution and disk
// size. Radii between brackets round up to the next bracket; radii past
// the table extrapolate with k ~ miles * 2.5.
type radiusBracket struct {
	maxMiles   float64
	resolution int
	k          int
}

var radiusBrackets = []radiusBracket{
	{0.25, ResBlock, 0},
	{0.5, ResBlock, 1},
	{1.0, ResNeighborhood, 3},
	{3.0, ResDistrict, 8},
	{5.0, ResDistrict, 13},
}

// ErrInvalidCell marks a malformed or out-of-range cell identifier.
var ErrInvalidCell = fmt.Errorf("invalid cell identifier")

func parseCell(id string) (h3.Cell, error) {
	c := h3.Cell(h3.IndexFromString(id))
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, id)
	}
	return c, nil
}

// ValidCoords reports whether lat/lng are in range.
func ValidCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Encode converts a coordinate to its cell id at the given resolution.
func Encode(lat, lng float64, resolution int) (string, error) {
	if !ValidCoords(lat, lng) {
		return "", fmt.Errorf("coordinates out of range: (%f, %f)", lat, lng)
	}
	if resolution < 0 || resolution > 15 {
		return "", fmt.Errorf("resolution out of range: %d", resolution)
	}
	return h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution).String(), nil
}

// CellSet returns the three-resolution cell set for a point. The R8 and
// R7 ids are ancestors of the R9 id by construction.
func CellSet(lat, lng float64) (r9, r8, r7 string, err error) {
	if !ValidCoords(lat, lng) {
		return "", "", "", fmt.Errorf("coordinates out of range: (%f, %f)", lat, lng)
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lng), ResBlock)
	return cell.String(), cell.Parent(ResNeighborhood).String(), cell.Parent(ResDistrict).String(), nil
}

// DecodeCenter returns the center coordinate of a cell.
func DecodeCenter(id string) (lat, lng float64, err error) {
	c, err := parseCell(id)
	if err != nil {
		return 0, 0, err
	}
	ll := h3.CellToLatLng(c)
	return ll.Lat, ll.Lng, nil
}

// Boundary returns the cell's polygon as (lat, lng) vertex pairs.
func Boundary(id string) ([][2]float64, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	bound := c.Boundary()
	out := make([][2]float64, 0, len(bound))
	for _, v := range bound {
		out = append(out, [2]float64{v.Lat, v.Lng})
	}
	return out, nil
}

// Ancestor returns the parent cell at a coarser resolution.
func Ancestor(id string, resolution int) (string, error) {
	c, err := parseCell(id)
	if err != nil {
		return "", err
	}
	if resolution > c.Resolution() {
		return "", fmt.Errorf("resolution %d finer than cell resolution %d", resolution, c.Resolution())
	}
	return c.Parent(resolution).String(), nil
}

// Descendants returns all child cells at a finer resolution.
func Descendants(id string, resolution int) ([]string, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	if resolution < c.Resolution() {
		return nil, fmt.Errorf("resolution %d coarser than cell resolution %d", resolution, c.Resolution())
	}
	return cellStrings(c.Children(resolution)), nil
}

// Disk returns all cells within k grid steps of the center, inclusive.
func Disk(id string, k int) ([]string, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, fmt.Errorf("negative disk size %d", k)
	}
	return cellStrings(c.GridDisk(k)), nil
}

// Ring returns the cells exactly k steps from the center. Derived as
// disk(k) minus disk(k-1).
func Ring(id string, k int) ([]string, error) {
	if k == 0 {
		return Disk(id, 0)
	}
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, fmt.Errorf("negative ring size %d", k)
	}
	inner := make(map[h3.Cell]struct{})
	for _, cell := range c.GridDisk(k - 1) {
		inner[cell] = struct{}{}
	}
	var out []string
	for _, cell := range c.GridDisk(k) {
		if _, ok := inner[cell]; !ok {
			out = append(out, cell.String())
		}
	}
	return out, nil
}

// GridDistance returns the number of grid steps between two cells.
func GridDistance(a, b string) (int, error) {
	ca, err := parseCell(a)
	if err != nil {
		return 0, err
	}
	cb, err := parseCell(b)
	if err != nil {
		return 0, err
	}
	d := ca.GridDistance(cb)
	if d < 0 {
		return 0, fmt.Errorf("no grid path between %s and %s", a, b)
	}
	return d, nil
}

// Compact reduces a cell set to its minimal covering representation.
func Compact(ids []string) ([]string, error) {
	cells, err := parseCells(ids)
	if err != nil {
		return nil, err
	}
	return cellStrings(h3.CompactCells(cells)), nil
}

// Uncompact expands a compacted set to uniform cells at the resolution.
func Uncompact(ids []string, resolution int) ([]string, error) {
	cells, err := parseCells(ids)
	if err != nil {
		return nil, err
	}
	return cellStrings(h3.UncompactCells(cells, resolution)), nil
}

// RadiusToCells maps a radius in miles to the resolution and disk size
// used to cover it.
func RadiusToCells(radiusMiles float64) (resolution, k int) {
	for _, b := range radiusBrackets {
		if radiusMiles <= b.maxMiles {
			return b.resolution, b.k
		}
	}
	// Past the table: linear extrapolation at the coarsest bracket.
	return ResDistrict, int(radiusMiles * 2.5)
}

// CoverRadius returns the cell set covering a radius around a point,
// all at the resolution chosen for that radius.
func CoverRadius(lat, lng, radiusMiles float64) (resolution int, cells []string, err error) {
	resolution, k := RadiusToCells(radiusMiles)
	center, err := Encode(lat, lng, resolution)
	if err != nil {
		return 0, nil, err
	}
	cells, err = Disk(center, k)
	return resolution, cells, err
}

// DistanceMiles estimates the distance between two cells as the
// great-circle distance between their centers. This is an
// approximation: it is center-to-center, not edge-to-edge.
func DistanceMiles(a, b string) (float64, error) {
	lat1, lng1, err := DecodeCenter(a)
	if err != nil {
		return 0, err
	}
	lat2, lng2, err := DecodeCenter(b)
	if err != nil {
		return 0, err
	}
	return Haversine(lat1, lng1, lat2, lng2), nil
}

// Haversine returns the great-circle distance in miles between two
// coordinates.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * c
}

func parseCells(ids []string) ([]h3.Cell, error) {
	cells := make([]h3.Cell, 0, len(ids))
	for _, id := range ids {
		c, err := parseCell(id)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func cellStrings(cells []h3.Cell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out
}
