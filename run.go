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
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	rasterDir      = "rasters"
	pyramidWorkDir = "pyramid_work"

	// TileInfoFile is the name of the tile metadata table in the work
	// directory. The shapefile version has the same stem.
	TileInfoFile = "tiles_info.csv"

	// GridFile is the name of the grid description in the work directory.
	GridFile = "tiles_grid.toml"
)

// LoadPoints returns a function that reads the point table at path.
// If sourceProj is not empty, positions are reprojected from it to web
// mercator.
func LoadPoints(path string, cols Columns, sourceProj string) TilerManipulator {
	return func(t *Tiler) error {
		var tr func(x, y float64) (float64, float64, error)
		if sourceProj != "" {
			r, err := NewReprojector(sourceProj)
			if err != nil {
				return err
			}
			tr = r
		}
		points, b, err := ReadPointsFile(path, cols, tr)
		if err != nil {
			return err
		}
		t.Points, t.Extent = points, b
		t.log().WithFields(logrus.Fields{"points": len(points), "file": path}).Info("read point table")
		return nil
	}
}

// UsePoints returns a function that sets the point table of the run to
// points, which must already be in web mercator.
func UsePoints(points []Point) TilerManipulator {
	return func(t *Tiler) error {
		b := geom.NewBounds()
		for _, p := range points {
			b.Extend(geom.NewBoundsPoint(geom.Point{X: p.Lon, Y: p.Lat}))
		}
		t.Points, t.Extent = points, b
		return nil
	}
}

// PartitionGrid returns a function that creates the base tile grid from the
// extent of the points.
func PartitionGrid() TilerManipulator {
	return func(t *Tiler) error {
		if t.Extent == nil {
			return fmt.Errorf("aistiles: no points have been loaded")
		}
		if !(t.TileSize() > 0) {
			return fmt.Errorf("aistiles: tile size must be positive, got %g", t.TileSize())
		}
		e := t.Extent
		if !finite(e.Min.X, e.Min.Y, e.Max.X, e.Max.Y) && len(t.Points) > 0 {
			return fmt.Errorf("aistiles: point extent %v is not finite", e)
		}
		if n := math.Ceil(math.Max(e.Max.X-e.Min.X, e.Max.Y-e.Min.Y) / t.TileSize()); n > MaxTilesPerAxis {
			return fmt.Errorf("aistiles: tile size %g gives %g tiles along an axis, more than %d", t.TileSize(), n, MaxTilesPerAxis)
		}
		t.Index = Partition(e, t.TileSize())
		t.log().WithFields(logrus.Fields{
			"cells":     len(t.Index.Cells),
			"tile_size": t.TileSize(),
		}).Info("partitioned grid")
		return nil
	}
}

// RoutePoints returns a function that writes the tile content files of
// every category, the tile metadata table, and sets up the categories of
// the run.
func RoutePoints() TilerManipulator {
	return func(t *Tiler) error {
		if err := os.MkdirAll(t.WorkDir, os.ModePerm); err != nil {
			return fmt.Errorf("aistiles: creating work directory: %w", err)
		}
		r := &Router{Dir: t.WorkDir, Log: t.log()}
		routing, err := r.Route(t.Points, t.Index)
		if err != nil {
			return err
		}
		t.Routing = routing
		t.dirs = make(map[string]string, len(routing.Dirs))
		for name, d := range routing.Dirs {
			t.dirs[name] = d
		}

		if err := t.writeTileInfo(routing.Info); err != nil {
			return err
		}

		speeds := make(map[string][]float64)
		for _, p := range t.Points {
			speeds[p.Category] = append(speeds[p.Category], p.Speed)
			speeds[AllCategory] = append(speeds[AllCategory], p.Speed)
		}
		t.Categories = nil
		for _, name := range routing.Categories {
			c := t.NewCategory(name)
			c.Tiles = routing.Tiles[name]
			c.Points = routing.Points[name]
			c.Stats = NewSpeedStats(speeds[name])
			t.Categories = append(t.Categories, c)
		}
		t.log().WithFields(logrus.Fields{
			"categories": len(t.Categories),
			"failed":     routing.Failed,
		}).Info("routed points")
		return nil
	}
}

func (t *Tiler) writeTileInfo(info []TileInfo) error {
	infoPath := filepath.Join(t.WorkDir, TileInfoFile)
	if err := WriteTileInfo(infoPath, info); err != nil {
		return err
	}
	if err := WriteGridFile(filepath.Join(t.WorkDir, GridFile), t.Index.Grid()); err != nil {
		return err
	}
	shpPath := strings.TrimSuffix(infoPath, filepath.Ext(infoPath)) + ".shp"
	return WriteTileShapefile(shpPath, info)
}

// WriteGrid returns a function that writes the tile metadata table and
// shapefile of the grid without writing tile content files. A tile has
// data if any point lies in it.
func WriteGrid() TilerManipulator {
	return func(t *Tiler) error {
		if t.Index == nil {
			return fmt.Errorf("aistiles: the grid has not been partitioned")
		}
		if err := os.MkdirAll(t.WorkDir, os.ModePerm); err != nil {
			return fmt.Errorf("aistiles: creating work directory: %w", err)
		}
		hasData := make(map[TileKey]bool)
		for _, p := range t.Points {
			if c, ok := t.Index.Locate(p.Lon, p.Lat); ok {
				hasData[c.TileKey] = true
			}
		}
		if err := t.writeTileInfo(t.Index.Info(hasData)); err != nil {
			return err
		}
		t.log().WithFields(logrus.Fields{
			"cells":     len(t.Index.Cells),
			"populated": len(hasData),
		}).Info("wrote grid")
		return nil
	}
}

// runUnits runs do for units 0 to n-1 with at most workers running at
// once and returns the number that failed. It returns when all units have
// finished.
func runUnits(workers, n int, do func(i int) error) int {
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := do(i); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(failed.Load())
}

// RasterizeTiles returns a function that rasterizes every tile content file
// of a category and writes the rasters with w. Content files are removed
// once rasterized unless KeepIntermediate is set.
func RasterizeTiles(w RasterWriter) CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		start := time.Now()
		r := Rasterizer{Resolution: t.Resolution, Pixels: t.PixelCount}
		var mu sync.Mutex
		c.Rasters = nil
		failed := runUnits(t.workers(), len(c.Tiles), func(i int) error {
			k := c.Tiles[i]
			log := t.log().WithFields(logrus.Fields{
				"category": c.Name,
				"tile":     k.String(),
				"stage":    "rasterize",
			})
			cell, ok := t.Index.Cell(k)
			if !ok {
				err := fmt.Errorf("aistiles: tile %v is not in the grid", k)
				log.WithError(err).Error("rasterizing tile")
				return err
			}
			in := TilePointsPath(c.Dir, k)
			img, gt, ok, err := r.RasterizeFile(in, cell)
			if err != nil {
				log.WithError(err).Error("rasterizing tile")
				return err
			}
			if !ok {
				return nil
			}
			out := filepath.Join(c.Dir, rasterDir, k.String()+".png")
			if err := w.WriteRaster(out, img, gt); err != nil {
				log.WithError(err).Error("writing raster")
				return err
			}
			if !t.KeepIntermediate {
				os.Remove(in)
			}
			mu.Lock()
			c.Rasters = append(c.Rasters, out)
			mu.Unlock()
			return nil
		})
		sort.Strings(c.Rasters)
		c.record("rasterize", start, len(c.Tiles), failed)
		return nil
	}
}

// splitChunks divides items into at most n contiguous chunks whose
// lengths differ by at most one.
func splitChunks(items []string, n int) [][]string {
	if n > len(items) {
		n = len(items)
	}
	chunks := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		lo := i * len(items) / n
		hi := (i + 1) * len(items) / n
		chunks = append(chunks, items[lo:hi])
	}
	return chunks
}

// BuildPyramids returns a function that expands the base rasters of a
// category into per-worker pyramids. The rasters are split among the
// workers; each worker builds one raster at a time into a scratch directory
// and folds it into its own pyramid. A raster whose build fails is logged
// and left out.
func BuildPyramids(ctx context.Context, b PyramidBuilder) CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		start := time.Now()
		work := filepath.Join(c.Dir, pyramidWorkDir)
		if err := os.RemoveAll(work); err != nil {
			return fmt.Errorf("aistiles: clearing %s: %w", work, err)
		}
		if err := os.MkdirAll(work, os.ModePerm); err != nil {
			return fmt.Errorf("aistiles: creating %s: %w", work, err)
		}
		chunks := splitChunks(c.Rasters, t.workers())
		c.WorkerDirs = make([]string, len(chunks))
		var failed atomic.Int64
		var g errgroup.Group
		for k, chunk := range chunks {
			k, chunk := k, chunk
			dir := filepath.Join(work, "worker_"+strconv.Itoa(k))
			c.WorkerDirs[k] = dir
			g.Go(func() error {
				failed.Add(int64(t.buildChunk(ctx, b, c, dir, chunk)))
				return nil
			})
		}
		g.Wait()
		c.record("pyramid", start, len(c.Rasters), int(failed.Load()))
		return nil
	}
}

func (t *Tiler) buildChunk(ctx context.Context, b PyramidBuilder, c *Category, dir string, rasters []string) (failed int) {
	scratch := dir + "_scratch"
	empty := true
	for _, raster := range rasters {
		log := t.log().WithFields(logrus.Fields{
			"category": c.Name,
			"tile":     filepath.Base(raster),
			"stage":    "pyramid",
		})
		os.RemoveAll(scratch)
		if err := b.BuildPyramid(ctx, raster, scratch); err != nil {
			log.WithError(err).Error("building pyramid")
			failed++
			continue
		}
		if ok, _ := fileExists(scratch); !ok {
			continue
		}
		if empty {
			os.RemoveAll(dir)
			if err := os.Rename(scratch, dir); err != nil {
				log.WithError(err).Error("moving pyramid")
				failed++
				continue
			}
			empty = false
			continue
		}
		res, err := t.Merger.MergeTrees(ctx, dir, scratch)
		if err != nil || res.Failed > 0 {
			log.WithError(err).WithField("failed_tiles", res.Failed).Error("folding pyramid")
			failed++
		}
	}
	os.RemoveAll(scratch)
	if empty {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			t.log().WithError(err).Error("creating worker directory")
		}
	}
	return failed
}

// MergeWorkers returns a function that merges the per-worker pyramids of a
// category into the category directory and copies the non-tile files the
// pyramid builder wrote, such as web viewers, from the first worker
// directory that has them.
func MergeWorkers(ctx context.Context) CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		start := time.Now()
		res, err := t.Merger.MergeTrees(ctx, c.Dir, c.WorkerDirs...)
		if err != nil {
			return err
		}
		t.log().WithFields(logrus.Fields{
			"category": c.Name,
			"tiles":    res.Tiles,
			"copied":   res.Copied,
			"merged":   res.Merged,
			"failed":   res.Failed,
		}).Info("merged worker pyramids")
		failed := res.Failed
		for _, d := range c.WorkerDirs {
			if err := copyLooseFiles(c.Dir, d); err != nil {
				t.log().WithField("category", c.Name).WithError(err).Error("copying viewer files")
				failed++
			}
		}
		c.record("merge", start, res.Tiles, failed)
		return nil
	}
}

// copyLooseFiles copies the regular files directly inside src to dst
// unless dst already has a file with the same name.
func copyLooseFiles(dst, src string) error {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		to := filepath.Join(dst, e.Name())
		ok, err := fileExists(to)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := copyFileAtomic(to, filepath.Join(src, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// RemoveIntermediates returns a function that deletes the tile content
// files, base rasters and per-worker pyramids of a category, unless
// KeepIntermediate is set.
func RemoveIntermediates() CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		if t.KeepIntermediate {
			return nil
		}
		for _, d := range []string{tilePointsDir, rasterDir, pyramidWorkDir} {
			if err := os.RemoveAll(filepath.Join(c.Dir, d)); err != nil {
				return fmt.Errorf("aistiles: removing intermediate files: %w", err)
			}
		}
		return nil
	}
}

// CombineCategories returns a function that merges the pyramids of the
// named categories into a new category called name. Names that are not
// categories of the run are logged and skipped.
func CombineCategories(ctx context.Context, name string, categories ...string) TilerManipulator {
	return func(t *Tiler) error {
		if len(categories) == 0 {
			return nil
		}
		if _, ok := t.Category(name); ok {
			return fmt.Errorf("aistiles: combined category %q already exists", name)
		}
		start := time.Now()
		out := t.NewCategory(name)
		var dirs []string
		members := make(map[string]bool)
		for _, n := range categories {
			c, ok := t.Category(n)
			if !ok {
				t.log().WithField("category", n).Warn("category to combine not found")
				continue
			}
			dirs = append(dirs, c.Dir)
			out.Points += c.Points
			members[n] = true
		}
		var speeds []float64
		for _, p := range t.Points {
			if members[p.Category] || members[AllCategory] {
				speeds = append(speeds, p.Speed)
			}
		}
		out.Stats = NewSpeedStats(speeds)
		if err := os.MkdirAll(out.Dir, os.ModePerm); err != nil {
			return fmt.Errorf("aistiles: creating %s: %w", out.Dir, err)
		}
		res, err := t.Merger.MergeTrees(ctx, out.Dir, dirs...)
		if err != nil {
			return err
		}
		out.record("combine", start, res.Tiles, res.Failed)
		t.Categories = append(t.Categories, out)
		return nil
	}
}
