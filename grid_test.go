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
	"math"
	"reflect"
	"testing"

	"github.com/ctessum/geom"
	"github.com/kr/pretty"
)

func bounds(minX, minY, maxX, maxY float64) *geom.Bounds {
	return &geom.Bounds{Min: geom.Point{X: minX, Y: minY}, Max: geom.Point{X: maxX, Y: maxY}}
}

func TestPartition(t *testing.T) {
	idx := Partition(bounds(0, 0, 10, 7), 4)
	type cell struct {
		K                      TileKey
		MinX, MinY, MaxX, MaxY float64
	}
	var have []cell
	for _, c := range idx.Cells {
		have = append(have, cell{c.TileKey, c.MinLon, c.MinLat, c.MaxLon, c.MaxLat})
	}
	want := []cell{
		{TileKey{0, 0}, 0, 0, 4, 4},
		{TileKey{0, 1}, 0, 4, 4, 7},
		{TileKey{1, 0}, 4, 0, 8, 4},
		{TileKey{1, 1}, 4, 4, 8, 7},
		{TileKey{2, 0}, 8, 0, 10, 4},
		{TileKey{2, 1}, 8, 4, 10, 7},
	}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("cells:\n%v", pretty.Diff(have, want))
	}
	if len(idx.Columns()) != 3 {
		t.Errorf("columns: have %d, want 3", len(idx.Columns()))
	}
	if idx.TileSize != 4 {
		t.Errorf("tile size: have %g, want 4", idx.TileSize)
	}
}

func TestPartitionCoverage(t *testing.T) {
	b := bounds(-1234.5, 987.25, 20000.75, 15000)
	idx := Partition(b, 3000)
	xs := []float64{b.Min.X, b.Max.X, -1234.49, 1765.5, 1765.49, 19999, 4765.5}
	ys := []float64{b.Min.Y, b.Max.Y, 3987.25, 3987.24, 14999.99, 10000}
	for _, x := range xs {
		for _, y := range ys {
			var n int
			for _, c := range idx.Cells {
				if c.Contains(x, y) {
					n++
				}
			}
			if n != 1 {
				t.Errorf("point (%g, %g) is in %d cells, want 1", x, y, n)
			}
			c, ok := idx.Locate(x, y)
			if !ok || !c.Contains(x, y) {
				t.Errorf("Locate(%g, %g) = %v, %v", x, y, c, ok)
			}
		}
	}
}

func TestPartitionBoundary(t *testing.T) {
	idx := Partition(bounds(0, 0, 10, 10), 5)
	for _, test := range []struct {
		x, y float64
		want TileKey
	}{
		{0, 0, TileKey{0, 0}},
		{5, 0, TileKey{1, 0}},
		{4.999, 4.999, TileKey{0, 0}},
		{0, 5, TileKey{0, 1}},
		{10, 10, TileKey{1, 1}},
		{10, 0, TileKey{1, 0}},
	} {
		c, ok := idx.Locate(test.x, test.y)
		if !ok {
			t.Errorf("(%g, %g) not found", test.x, test.y)
			continue
		}
		if c.TileKey != test.want {
			t.Errorf("(%g, %g): have %v, want %v", test.x, test.y, c.TileKey, test.want)
		}
	}
	if _, ok := idx.Locate(10.001, 5); ok {
		t.Error("point outside the extent was located")
	}
}

func TestPartitionDegenerate(t *testing.T) {
	// 0.30000000000000004 is 3*0.1 in floating point, so the fourth
	// breakpoint lands exactly on the maximum and is omitted.
	max := 0.30000000000000004
	idx := Partition(bounds(0, 0, max, max), 0.1)
	if len(idx.Cells) != 9 {
		t.Fatalf("have %d cells, want 9", len(idx.Cells))
	}
	for _, c := range idx.Cells {
		if c.MinLon >= max || c.MinLat >= max {
			t.Errorf("cell %v starts at the maximum", c.TileKey)
		}
		if c.I > 2 || c.J > 2 {
			t.Errorf("unexpected cell %v", c.TileKey)
		}
	}
}

func TestPartitionEmpty(t *testing.T) {
	for _, b := range []*geom.Bounds{
		bounds(5, 5, 5, 5),
		bounds(0, 0, 10, 0),
		bounds(0, 0, 0, 10),
		geom.NewBounds(),
	} {
		idx := Partition(b, 1)
		if len(idx.Cells) != 0 {
			t.Errorf("%v: have %d cells, want 0", b, len(idx.Cells))
		}
		if _, ok := idx.Locate(5, 5); ok {
			t.Errorf("%v: located a point in an empty grid", b)
		}
	}
}

func TestPartitionNonFinite(t *testing.T) {
	inf := math.Inf(1)
	nan := math.NaN()
	for _, test := range []struct {
		b    *geom.Bounds
		size float64
	}{
		{b: bounds(0, 0, inf, 10), size: 1},
		{b: bounds(-inf, 0, 10, 10), size: 1},
		{b: bounds(0, 0, 10, inf), size: 1},
		{b: bounds(nan, 0, 10, 10), size: 1},
		{b: bounds(0, 0, 10, nan), size: 1},
		{b: bounds(0, 0, 10, 10), size: nan},
		{b: bounds(0, 0, 10, 10), size: inf},
		{b: bounds(0, 0, 1e300, 10), size: 1e-300},
		{b: bounds(0, 0, 10, 10), size: 10.0 / (MaxTilesPerAxis + 1)},
	} {
		idx := Partition(test.b, test.size)
		if len(idx.Cells) != 0 {
			t.Errorf("%v size %g: have %d cells, want 0", test.b, test.size, len(idx.Cells))
		}
	}
	if n := len(breakpoints(0, 10, 10.0/MaxTilesPerAxis)); n != MaxTilesPerAxis {
		t.Errorf("have %d breakpoints, want %d", n, MaxTilesPerAxis)
	}
}

func TestTileKeyString(t *testing.T) {
	if s := (TileKey{I: 3, J: 12}).String(); s != "3_12" {
		t.Errorf("have %q, want 3_12", s)
	}
}
