// Package regions loads named polygonal regions from KML files and
// answers, for a given position, which region of each file contains
// it. A point is in at most one region per file: the first polygon
// declared in the file wins.
package regions

import (
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/skyops/rulescope/pkg/geo"
)

// Region is a single named closed polygon, optionally gated on an
// altitude band and a ground-track range. The gates come from
// annotated placemark names of the form
//
//	Rwy 25 Approach: 4500-5500 230-270
//
// meaning 4500-5500 ft MSL with track 230-270 degrees. Plain names
// define pure geometric regions with no gates.
type Region struct {
	// Name is the region label (the part before any annotation).
	Name string

	// Polygon vertices in declaration order.
	Polygon []geo.Point

	// MinAlt, MaxAlt bound barometric altitude in feet when HasAltGate.
	MinAlt, MaxAlt float64
	HasAltGate     bool

	// StartHdg, EndHdg bound the ground track in degrees when
	// HasHdgGate. The range may wrap through north.
	StartHdg, EndHdg float64
	HasHdgGate       bool
}

// Contains reports whether the region contains the given position.
func (r *Region) Contains(lat, lon, track, altBaro float64) bool {
	if !geo.PointInPolygon(lat, lon, r.Polygon) {
		return false
	}
	if r.HasAltGate && (altBaro < r.MinAlt || altBaro > r.MaxAlt) {
		return false
	}
	if r.HasHdgGate && !geo.HeadingInRange(track, r.StartHdg, r.EndHdg) {
		return false
	}
	return true
}

// File is the ordered collection of regions from one KML file.
type File struct {
	// Path the file was loaded from (diagnostics only).
	Path string

	// Regions in declaration order.
	Regions []*Region
}

// Contains returns the index of the first region containing the
// position, or -1.
func (f *File) Contains(lat, lon, track, altBaro float64) int {
	for i, r := range f.Regions {
		if r.Contains(lat, lon, track, altBaro) {
			return i
		}
	}
	return -1
}

// Names returns the declared region names in order.
func (f *File) Names() []string {
	names := make([]string, len(f.Regions))
	for i, r := range f.Regions {
		names[i] = r.Name
	}
	return names
}

// Set is the ordered list of region files the engine resolves against.
// An empty set resolves every point to no regions.
type Set struct {
	Files []*File
}

// LoadSet loads the given KML files in order. Any unreadable or
// malformed file is a startup error.
func LoadSet(paths []string) (*Set, error) {
	s := &Set{}
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("region file %s: %w", p, err)
		}
		s.Files = append(s.Files, f)
	}
	return s, nil
}

// Resolve returns one entry per file: the name of the first region
// containing the position, or "" if none. The returned slice is
// always len(s.Files).
func (s *Set) Resolve(lat, lon, track, altBaro float64) []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		if idx := f.Contains(lat, lon, track, altBaro); idx >= 0 {
			out[i] = f.Regions[idx].Name
		}
	}
	return out
}

// HasRegion reports whether any file declares a region with the name.
// Used for config validation.
func (s *Set) HasRegion(name string) bool {
	for _, f := range s.Files {
		for _, r := range f.Regions {
			if r.Name == name {
				return true
			}
		}
	}
	return false
}

// kml document subset we care about: placemarks with polygons, nested
// arbitrarily in Documents and Folders.
type kmlContainer struct {
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name    string     `xml:"name"`
	Polygon kmlPolygon `xml:"Polygon"`
}

type kmlPolygon struct {
	Coordinates string `xml:"outerBoundaryIs>LinearRing>coordinates"`
}

type kmlRoot struct {
	kmlContainer
}

// annotated placemark name: "label: minalt-maxalt minhdg-maxhdg"
var annotatedName = regexp.MustCompile(`^([^:]+):\s*(\d+)-(\d+)\s+(\d+)-(\d+)`)

// LoadFile parses one KML file into an ordered region collection.
// A file with no placemarks yields an empty File, which is legal:
// every point then resolves to no region for that slot.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKML(path, data)
}

// ParseKML parses KML bytes. Split out from LoadFile for tests.
func ParseKML(path string, data []byte) (*File, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse KML: %w", err)
	}

	f := &File{Path: path}
	if err := collectPlacemarks(&root.kmlContainer, f); err != nil {
		return nil, err
	}
	return f, nil
}

func collectPlacemarks(c *kmlContainer, f *File) error {
	for i := range c.Placemarks {
		pm := &c.Placemarks[i]
		if strings.TrimSpace(pm.Polygon.Coordinates) == "" {
			continue // point or line placemark, not a region
		}
		r, err := placemarkToRegion(pm)
		if err != nil {
			return err
		}
		f.Regions = append(f.Regions, r)
	}
	for i := range c.Documents {
		if err := collectPlacemarks(&c.Documents[i], f); err != nil {
			return err
		}
	}
	for i := range c.Folders {
		if err := collectPlacemarks(&c.Folders[i], f); err != nil {
			return err
		}
	}
	return nil
}

func placemarkToRegion(pm *kmlPlacemark) (*Region, error) {
	r := &Region{Name: strings.TrimSpace(pm.Name)}

	if m := annotatedName.FindStringSubmatch(r.Name); m != nil {
		r.Name = strings.TrimSpace(m[1])
		r.MinAlt, _ = strconv.ParseFloat(m[2], 64)
		r.MaxAlt, _ = strconv.ParseFloat(m[3], 64)
		r.StartHdg, _ = strconv.ParseFloat(m[4], 64)
		r.EndHdg, _ = strconv.ParseFloat(m[5], 64)
		r.HasAltGate = true
		r.HasHdgGate = true
	}
	if r.Name == "" {
		return nil, fmt.Errorf("placemark with polygon has no name")
	}

	poly, err := parseCoordinates(pm.Polygon.Coordinates)
	if err != nil {
		return nil, fmt.Errorf("region %q: %w", r.Name, err)
	}
	r.Polygon = poly
	return r, nil
}

// parseCoordinates parses the KML "lon,lat[,alt]" whitespace-separated
// coordinate list.
func parseCoordinates(coords string) ([]geo.Point, error) {
	var poly []geo.Point
	for _, tuple := range strings.Fields(coords) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate tuple %q", tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q", parts[1])
		}
		poly = append(poly, geo.Point{Lat: lat, Lon: lon})
	}
	if len(poly) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(poly))
	}
	return poly, nil
}
