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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
)

// TileInfo is one row of the tile metadata table.
type TileInfo struct {
	TileKey
	MinLon, MinLat, MaxLon, MaxLat float64

	// HasData is true if at least one point of any category fell in the tile.
	HasData bool
}

var tileInfoHeader = []string{"grid_x", "grid_y", "min_lon", "min_lat", "max_lon", "max_lat", "has_data"}

// WriteTileInfo writes the tile metadata table to path as CSV.
func WriteTileInfo(path string, info []TileInfo) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(tileInfoHeader); err != nil {
			return err
		}
		for _, t := range info {
			has := "0"
			if t.HasData {
				has = "1"
			}
			rec := []string{
				strconv.Itoa(t.I), strconv.Itoa(t.J),
				strconv.FormatFloat(t.MinLon, 'g', -1, 64),
				strconv.FormatFloat(t.MinLat, 'g', -1, 64),
				strconv.FormatFloat(t.MaxLon, 'g', -1, 64),
				strconv.FormatFloat(t.MaxLat, 'g', -1, 64),
				has,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("aistiles: writing tile metadata: %w", err)
	}
	return nil
}

// ReadTileInfo reads a tile metadata table written by WriteTileInfo.
func ReadTileInfo(path string) ([]TileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
	}
	idx, err := columnIndices(header, tileInfoHeader...)
	if err != nil {
		return nil, err
	}
	var info []TileInfo
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
		}
		var t TileInfo
		if t.I, err = strconv.Atoi(rec[idx[0]]); err != nil {
			return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
		}
		if t.J, err = strconv.Atoi(rec[idx[1]]); err != nil {
			return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
		}
		for k, v := range []*float64{&t.MinLon, &t.MinLat, &t.MaxLon, &t.MaxLat} {
			if *v, err = strconv.ParseFloat(rec[idx[2+k]], 64); err != nil {
				return nil, fmt.Errorf("aistiles: reading tile metadata: %w", err)
			}
		}
		t.HasData = strings.TrimSpace(rec[idx[6]]) == "1"
		info = append(info, t)
	}
	return info, nil
}

// Info returns the metadata table of the index in cell order. hasData
// marks the populated tiles.
func (t *TileIndex) Info(hasData map[TileKey]bool) []TileInfo {
	info := make([]TileInfo, len(t.Cells))
	for i, c := range t.Cells {
		info[i] = TileInfo{
			TileKey: c.TileKey,
			MinLon:  c.MinLon, MinLat: c.MinLat, MaxLon: c.MaxLon, MaxLat: c.MaxLat,
			HasData: hasData[c.TileKey],
		}
	}
	return info
}

// Grid describes a partitioned extent. With the tile metadata table it is
// enough to rebuild the tile index exactly.
type Grid struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	TileSize                       float64
}

// Grid returns the description of the partitioning of t.
func (t *TileIndex) Grid() Grid {
	return Grid{
		MinLon: t.Extent.Min.X, MinLat: t.Extent.Min.Y,
		MaxLon: t.Extent.Max.X, MaxLat: t.Extent.Max.Y,
		TileSize: t.TileSize,
	}
}

// WriteGridFile writes g to path as TOML.
func WriteGridFile(path string, g Grid) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(g)
	})
	if err != nil {
		return fmt.Errorf("aistiles: writing grid description: %w", err)
	}
	return nil
}

// ReadGridFile reads a grid description written by WriteGridFile.
func ReadGridFile(path string) (Grid, error) {
	var g Grid
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return Grid{}, fmt.Errorf("aistiles: reading grid description: %w", err)
	}
	return g, nil
}

// IndexFromInfo rebuilds the tile index that g was partitioned into from
// its tile metadata table. Edge cells are those in the last column or row
// of breakpoints of g, as in Partition, so a cell next to an omitted
// column or row keeps its half-open boundary.
func IndexFromInfo(info []TileInfo, g Grid) *TileIndex {
	nx := len(breakpoints(g.MinLon, g.MaxLon, g.TileSize))
	ny := len(breakpoints(g.MinLat, g.MaxLat, g.TileSize))
	cells := make([]*Cell, len(info))
	for i, t := range info {
		cells[i] = newCell(t.TileKey, t.MinLon, t.MinLat, t.MaxLon, t.MaxLat, t.I == nx-1, t.J == ny-1)
	}
	extent := geom.Bounds{
		Min: geom.Point{X: g.MinLon, Y: g.MinLat},
		Max: geom.Point{X: g.MaxLon, Y: g.MaxLat},
	}
	return NewTileIndex(cells, extent, g.TileSize)
}

// WriteTileShapefile writes the tile metadata table as a polygon shapefile
// so the grid can be inspected in a GIS. path should end in ".shp".
func WriteTileShapefile(path string, info []TileInfo) error {
	e, err := shp.NewEncoderFromFields(path, goshp.POLYGON,
		goshp.NumberField("grid_x", 10),
		goshp.NumberField("grid_y", 10),
		goshp.NumberField("has_data", 1),
	)
	if err != nil {
		return fmt.Errorf("aistiles: creating tile shapefile: %w", err)
	}
	defer e.Close()
	for _, t := range info {
		has := 0
		if t.HasData {
			has = 1
		}
		c := newCell(t.TileKey, t.MinLon, t.MinLat, t.MaxLon, t.MaxLat, false, false)
		if err := e.EncodeFields(c.Polygon, t.I, t.J, has); err != nil {
			return fmt.Errorf("aistiles: writing tile shapefile: %w", err)
		}
	}
	return nil
}
