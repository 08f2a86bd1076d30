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
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// AllCategory is the name of the synthetic category that holds the points
// of every category.
const AllCategory = "All"

const tilePointsDir = "tiles_csv"

// Categories returns the distinct categories of points in lexical order,
// followed by AllCategory.
func Categories(points []Point) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, p := range points {
		if !seen[p.Category] && p.Category != AllCategory {
			seen[p.Category] = true
			cats = append(cats, p.Category)
		}
	}
	sort.Strings(cats)
	return append(cats, AllCategory)
}

// TilePointsPath returns the location of the tile content file of tile k
// in the category directory catDir.
func TilePointsPath(catDir string, k TileKey) string {
	return filepath.Join(catDir, tilePointsDir, k.String()+".csv")
}

// Routing is the result of routing a point table into tiles.
type Routing struct {
	// Categories are the routed categories, AllCategory last.
	Categories []string

	// Dirs holds the directory name of each category, relative to the
	// Router's Dir. No two categories share a directory.
	Dirs map[string]string

	// Tiles holds, for each category, the tiles that received a
	// content file, in grid order.
	Tiles map[string][]TileKey

	// Points holds the number of points routed into each category.
	Points map[string]int

	// Info has one row per tile cell.
	Info []TileInfo

	// Failed is the number of tile content files that could not be written.
	Failed int
}

// Router writes per-tile, per-category point files under Dir.
type Router struct {
	Dir string
	Log logrus.FieldLogger
}

// Prepare clears and creates the tile content directory of every category
// directory in dirs. It must complete before any tile content is read.
func (r *Router) Prepare(dirs map[string]string) error {
	for _, cat := range sortedKeys(dirs) {
		d := filepath.Join(r.Dir, dirs[cat], tilePointsDir)
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("aistiles: clearing %s: %w", d, err)
		}
		if err := os.MkdirAll(d, os.ModePerm); err != nil {
			return fmt.Errorf("aistiles: creating %s: %w", d, err)
		}
	}
	return nil
}

// Route assigns points to the cells of idx and writes one content file for
// every non-empty (category, tile) pair, including AllCategory.
// The points are sorted by longitude once, so each column of cells is
// selected with a binary search and every row within it scans only the
// points of its column. Write failures are logged and counted; they do not
// stop routing.
func (r *Router) Route(points []Point, idx *TileIndex) (*Routing, error) {
	res := &Routing{
		Categories: Categories(points),
		Tiles:      make(map[string][]TileKey),
		Points:     make(map[string]int),
	}
	res.Dirs = CategoryDirs(res.Categories)
	if err := r.Prepare(res.Dirs); err != nil {
		return nil, err
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Lon < sorted[b].Lon })

	hasData := make(map[TileKey]bool)
	for _, col := range idx.Columns() {
		c0 := col[0]
		lo := sort.Search(len(sorted), func(i int) bool { return sorted[i].Lon >= c0.MinLon })
		hi := sort.Search(len(sorted), func(i int) bool { return c0.beyondLon(sorted[i].Lon) })
		column := sorted[lo:hi]
		if len(column) == 0 {
			continue
		}
		for _, c := range col {
			byCat := make(map[string][]Point)
			var all []Point
			for _, p := range column {
				if c.ContainsLat(p.Lat) {
					byCat[p.Category] = append(byCat[p.Category], p)
					all = append(all, p)
				}
			}
			if len(all) == 0 {
				continue
			}
			byCat[AllCategory] = all
			for _, cat := range res.Categories {
				pts := byCat[cat]
				if len(pts) == 0 {
					continue
				}
				hasData[c.TileKey] = true
				path := TilePointsPath(filepath.Join(r.Dir, res.Dirs[cat]), c.TileKey)
				if err := WriteTilePoints(path, pts); err != nil {
					res.Failed++
					r.log().WithFields(logrus.Fields{
						"category": cat,
						"tile":     c.TileKey.String(),
						"stage":    "route",
					}).WithError(err).Error("writing tile points")
					continue
				}
				res.Tiles[cat] = append(res.Tiles[cat], c.TileKey)
				res.Points[cat] += len(pts)
			}
		}
	}

	res.Info = idx.Info(hasData)
	return res, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}
