/*
Copyright © 2024 the aistiles authors.
This file is part of aistiles.

aistiles is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

aistiles is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with aistiles.  If not, see <http://www.gnu.org/licenses/>.
*/

package aistiles

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// WebMercator is the projection of all planar coordinates in this package
// (EPSG:3857).
const WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// LongLat is the geographic projection AIS positions are reported in
// (EPSG:4326).
const LongLat = "+proj=longlat +datum=WGS84 +no_defs"

// ErrMissingColumn is returned when a required column is absent from an
// input table.
var ErrMissingColumn = errors.New("aistiles: missing required column")

// ErrNonFinitePosition is returned when a point's longitude or latitude is
// infinite or NaN.
var ErrNonFinitePosition = errors.New("aistiles: non-finite position")

// Point is a single vessel position. Lon and Lat are planar web mercator
// coordinates in meters, not degrees.
type Point struct {
	Lon, Lat float64
	Speed    float64
	Category string
}

// Columns holds the names of the input table columns that are read.
type Columns struct {
	Lon, Lat, Speed, Category string
}

// DefaultColumns are the column names of the AIS extraction format.
var DefaultColumns = Columns{
	Lon:      "lon",
	Lat:      "lat",
	Speed:    "sog",
	Category: "QO_category",
}

// NewReprojector returns a transformer from the projection described by
// the proj4 string src to WebMercator.
func NewReprojector(src string) (proj.Transformer, error) {
	srcSR, err := proj.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("aistiles: parsing source projection: %w", err)
	}
	dstSR, err := proj.Parse(WebMercator)
	if err != nil {
		return nil, fmt.Errorf("aistiles: parsing web mercator projection: %w", err)
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("aistiles: creating reprojection: %w", err)
	}
	return t, nil
}

// ReadPoints reads a tab-separated point table with a header row from r.
// If t is not nil, positions are transformed with it. Columns other than the
// four named in cols are ignored. The returned bounds are the extent of all
// points and are empty if there are no points.
func ReadPoints(r io.Reader, cols Columns, t proj.Transformer) ([]Point, *geom.Bounds, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("aistiles: reading point table header: %w", err)
	}
	idx, err := columnIndices(header, cols.Lon, cols.Lat, cols.Speed, cols.Category)
	if err != nil {
		return nil, nil, err
	}
	cr.FieldsPerRecord = len(header)

	var points []Point
	b := geom.NewBounds()
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("aistiles: reading point table: %w", err)
		}
		var v [3]float64
		for i := range v {
			v[i], err = strconv.ParseFloat(rec[idx[i]], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("aistiles: point table line %d column %q: %w", line, header[idx[i]], err)
			}
		}
		x, y := v[0], v[1]
		if !finite(x, y) {
			return nil, nil, fmt.Errorf("%w: line %d has position (%g, %g)", ErrNonFinitePosition, line, x, y)
		}
		if t != nil {
			x, y, err = t(x, y)
			if err != nil {
				return nil, nil, fmt.Errorf("aistiles: reprojecting point on line %d: %w", line, err)
			}
			if !finite(x, y) {
				return nil, nil, fmt.Errorf("%w: line %d reprojects to (%g, %g)", ErrNonFinitePosition, line, x, y)
			}
		}
		p := Point{Lon: x, Lat: y, Speed: v[2], Category: rec[idx[3]]}
		points = append(points, p)
		b.Extend(geom.NewBoundsPoint(geom.Point{X: x, Y: y}))
	}
	return points, b, nil
}

// ReadPointsFile is like ReadPoints but reads from the named file.
func ReadPointsFile(path string, cols Columns, t proj.Transformer) ([]Point, *geom.Bounds, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("aistiles: opening point table: %w", err)
	}
	defer f.Close()
	return ReadPoints(f, cols, t)
}

func columnIndices(header []string, names ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	idx := make([]int, len(names))
	for i, n := range names {
		j, ok := pos[n]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, n)
		}
		idx[i] = j
	}
	return idx, nil
}

// tilePointsHeader is the header of tile content files.
var tilePointsHeader = []string{"lon", "lat", "speed", "category"}

// WriteTilePoints writes the points of one tile and category to path.
func WriteTilePoints(path string, points []Point) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(tilePointsHeader); err != nil {
			return err
		}
		rec := make([]string, 4)
		for _, p := range points {
			rec[0] = strconv.FormatFloat(p.Lon, 'g', -1, 64)
			rec[1] = strconv.FormatFloat(p.Lat, 'g', -1, 64)
			rec[2] = strconv.FormatFloat(p.Speed, 'g', -1, 64)
			rec[3] = p.Category
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadTilePoints reads a tile content file written by WriteTilePoints.
func ReadTilePoints(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("aistiles: reading %s: %w", path, err)
	}
	idx, err := columnIndices(header, tilePointsHeader...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var points []Point
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("aistiles: reading %s: %w", path, err)
		}
		var v [3]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(rec[idx[i]], 64); err != nil {
				return nil, fmt.Errorf("aistiles: reading %s: %w", path, err)
			}
		}
		points = append(points, Point{Lon: v[0], Lat: v[1], Speed: v[2], Category: rec[idx[3]]})
	}
	return points, nil
}
