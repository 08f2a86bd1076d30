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
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// TileKey identifies a tile cell by its grid coordinates.
type TileKey struct {
	I, J int
}

// String returns the file name stem used for the tile, "<i>_<j>".
func (k TileKey) String() string { return fmt.Sprintf("%d_%d", k.I, k.J) }

// Cell is one cell of the base tile grid. Bounds are in planar meters.
// The lower bounds are inclusive and the upper bounds exclusive, except
// for cells in the last column or row, whose upper bounds are the global
// maximum and inclusive.
type Cell struct {
	geom.Polygon
	TileKey
	MinLon, MinLat, MaxLon, MaxLat float64

	lastCol, lastRow bool
}

func newCell(k TileKey, minLon, minLat, maxLon, maxLat float64, lastCol, lastRow bool) *Cell {
	return &Cell{
		Polygon: geom.Polygon{{
			{X: minLon, Y: minLat},
			{X: maxLon, Y: minLat},
			{X: maxLon, Y: maxLat},
			{X: minLon, Y: maxLat},
		}},
		TileKey: k,
		MinLon:  minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat,
		lastCol: lastCol, lastRow: lastRow,
	}
}

// ContainsLon reports whether x falls in the cell's column.
func (c *Cell) ContainsLon(x float64) bool {
	return x >= c.MinLon && (x < c.MaxLon || (c.lastCol && x == c.MaxLon))
}

// beyondLon reports whether x is east of the cell's column.
func (c *Cell) beyondLon(x float64) bool {
	if c.lastCol {
		return x > c.MaxLon
	}
	return x >= c.MaxLon
}

// ContainsLat reports whether y falls in the cell's row.
func (c *Cell) ContainsLat(y float64) bool {
	return y >= c.MinLat && (y < c.MaxLat || (c.lastRow && y == c.MaxLat))
}

// Contains reports whether the planar point (x, y) falls in the cell.
func (c *Cell) Contains(x, y float64) bool { return c.ContainsLon(x) && c.ContainsLat(y) }

// TileIndex is the base tile grid of a run.
type TileIndex struct {
	// Cells are sorted by column and then by row.
	Cells []*Cell

	// Extent is the bounding box that was partitioned.
	Extent geom.Bounds

	// TileSize is the physical edge length of a regular cell in meters.
	TileSize float64

	byKey map[TileKey]*Cell
	tree  *rtree.Rtree
}

// breakpoints returns the tile edges min, min+size, ... Their count follows
// the length of a half-open numeric range, ceil((max-min)/size), so with
// floating point rounding the last breakpoint can land on or past max.
// MaxTilesPerAxis is the largest number of grid columns or rows Partition
// will create.
const MaxTilesPerAxis = 1 << 20

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return false
		}
	}
	return true
}

func breakpoints(min, max, size float64) []float64 {
	if !(max > min) || !(size > 0) || !finite(min, max, size) {
		return nil
	}
	f := math.Ceil((max - min) / size)
	if math.IsInf(f, 0) || math.IsNaN(f) || f > MaxTilesPerAxis {
		return nil
	}
	n := int(f)
	bp := make([]float64, n)
	for k := range bp {
		bp[k] = min + float64(k)*size
	}
	return bp
}

// Partition divides the bounding box b into square cells with edge length
// tileSize. Cells in the last column and row are stretched or shrunk to end
// exactly at the maximum of b. If the last breakpoint on an axis is not
// strictly less than the maximum, that whole column or row is omitted.
// A bounding box with zero, negative or non-finite extent on either axis,
// or one needing more than MaxTilesPerAxis cells along an axis, results in
// an index with no cells.
func Partition(b *geom.Bounds, tileSize float64) *TileIndex {
	xs := breakpoints(b.Min.X, b.Max.X, tileSize)
	ys := breakpoints(b.Min.Y, b.Max.Y, tileSize)

	var cells []*Cell
	for i, x := range xs {
		lastCol := i == len(xs)-1
		if lastCol && x >= b.Max.X {
			continue
		}
		maxX := b.Max.X
		if !lastCol {
			maxX = xs[i+1]
		}
		for j, y := range ys {
			lastRow := j == len(ys)-1
			if lastRow && y >= b.Max.Y {
				continue
			}
			maxY := b.Max.Y
			if !lastRow {
				maxY = ys[j+1]
			}
			cells = append(cells, newCell(TileKey{I: i, J: j}, x, y, maxX, maxY, lastCol, lastRow))
		}
	}
	return NewTileIndex(cells, *b, tileSize)
}

// NewTileIndex creates an index from existing cells, for example cells read
// back from a tile metadata table.
func NewTileIndex(cells []*Cell, extent geom.Bounds, tileSize float64) *TileIndex {
	sort.Slice(cells, func(a, b int) bool {
		if cells[a].I != cells[b].I {
			return cells[a].I < cells[b].I
		}
		return cells[a].J < cells[b].J
	})
	t := &TileIndex{
		Cells:    cells,
		Extent:   extent,
		TileSize: tileSize,
		byKey:    make(map[TileKey]*Cell, len(cells)),
		tree:     rtree.NewTree(25, 50),
	}
	for _, c := range cells {
		t.byKey[c.TileKey] = c
		t.tree.Insert(c)
	}
	return t
}

// Cell returns the cell with the given key.
func (t *TileIndex) Cell(k TileKey) (*Cell, bool) {
	c, ok := t.byKey[k]
	return c, ok
}

// Columns returns the cells grouped by column, in column order.
func (t *TileIndex) Columns() [][]*Cell {
	var cols [][]*Cell
	for i, c := range t.Cells {
		if i == 0 || c.I != t.Cells[i-1].I {
			cols = append(cols, nil)
		}
		cols[len(cols)-1] = append(cols[len(cols)-1], c)
	}
	return cols
}

// Locate returns the cell containing the planar point (x, y).
func (t *TileIndex) Locate(x, y float64) (*Cell, bool) {
	p := geom.Point{X: x, Y: y}
	for _, g := range t.tree.SearchIntersect(p.Bounds()) {
		c := g.(*Cell)
		if c.Contains(x, y) {
			return c, true
		}
	}
	return nil, false
}
