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

// Package aistiles converts vessel position (AIS) records into web map
// tile pyramids colored by vessel speed, one pyramid per vessel category.
package aistiles

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
)

// Version is the version of this program.
const Version = "0.3.1"

// Config holds the parameters of a tiling run.
type Config struct {
	// WorkDir is the directory all outputs are written to.
	WorkDir string

	// Resolution is the base raster pixel size in meters.
	Resolution float64

	// PixelCount is the width and height of base rasters.
	PixelCount int

	MinZoom, MaxZoom int

	// Workers is the number of concurrent units of work per stage.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int

	// KeepIntermediate keeps tile content files, base rasters and
	// per-worker pyramids after a category completes.
	KeepIntermediate bool
}

// TileSize returns the physical edge length of a base tile in meters.
func (c *Config) TileSize() float64 { return c.Resolution * float64(c.PixelCount) }

func (c *Config) workers() int { return workerCount(c.Workers) }

// workerCount returns n, or the number of usable processors if n is less
// than one.
func workerCount(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// TilerManipulator is a function that operates on a whole tiling run.
type TilerManipulator func(t *Tiler) error

// CategoryManipulator is a function that operates on one category of a
// tiling run.
type CategoryManipulator func(t *Tiler, c *Category) error

// Tiler holds the state of a tiling run. InitFuncs run once, then
// CategoryFuncs run for every category in order, then CleanupFuncs run once.
// Each function is a barrier: it returns only after all of its units of
// work have finished.
type Tiler struct {
	Config

	InitFuncs     []TilerManipulator
	CategoryFuncs []CategoryManipulator
	CleanupFuncs  []TilerManipulator

	Log logrus.FieldLogger

	// Points is the point table being tiled.
	Points []Point

	// Extent is the bounding box of Points.
	Extent *geom.Bounds

	// Index is the base tile grid.
	Index *TileIndex

	// Routing is the result of routing Points into Index.
	Routing *Routing

	// Categories are the categories being tiled. AllCategory follows the
	// routed categories; combined categories are appended after it.
	Categories []*Category

	// Merger merges pyramid trees for all categories.
	Merger *Merger

	Start, End time.Time

	// dirs holds the directory name of each category under WorkDir.
	dirs map[string]string
}

// Category holds the state of one category of a tiling run.
type Category struct {
	Name string

	// Dir is the category directory and the root of its pyramid.
	Dir string

	// Tiles are the base tiles that hold points of the category.
	Tiles []TileKey

	// Points is the number of points in the category.
	Points int

	// Rasters are the base raster files written for the category.
	Rasters []string

	// WorkerDirs are the per-worker pyramid directories.
	WorkerDirs []string

	// Stats summarizes the speeds of the category's points.
	Stats SpeedStats

	// Stages records the outcome of each stage run on the category.
	Stages []StageResult
}

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Name    string
	Seconds float64
	// Units is the number of units of work attempted and Failed the
	// number that returned an error.
	Units, Failed int
}

// Failed returns the total number of failed units across the stages of c.
func (c *Category) Failed() int {
	var n int
	for _, s := range c.Stages {
		n += s.Failed
	}
	return n
}

func (c *Category) record(name string, start time.Time, units, failed int) {
	c.Stages = append(c.Stages, StageResult{
		Name:    name,
		Seconds: time.Since(start).Seconds(),
		Units:   units,
		Failed:  failed,
	})
}

// NewCategory returns a category named name under the work directory. The
// category directory is not shared with any other category of the run.
func (t *Tiler) NewCategory(name string) *Category {
	if t.dirs == nil {
		t.dirs = make(map[string]string)
	}
	return &Category{Name: name, Dir: filepath.Join(t.WorkDir, assignCategoryDir(t.dirs, name))}
}

// Category returns the category with the given name.
func (t *Tiler) Category(name string) (*Category, bool) {
	for _, c := range t.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Init runs the InitFuncs.
func (t *Tiler) Init() error {
	t.Start = time.Now()
	if t.Merger == nil {
		t.Merger = &Merger{Workers: t.workers(), Log: t.log()}
	}
	for i, f := range t.InitFuncs {
		if err := f(t); err != nil {
			return fmt.Errorf("aistiles: initialization step %d: %w", i, err)
		}
	}
	return nil
}

// Run runs the CategoryFuncs on each category in order. An error from a
// CategoryManipulator stops processing of that category only; the first
// such error is returned after all categories have been attempted.
func (t *Tiler) Run() error {
	var first error
	for _, c := range t.Categories {
		log := t.log().WithField("category", c.Name)
		log.Info("tiling category")
		for _, f := range t.CategoryFuncs {
			if err := f(t, c); err != nil {
				log.WithError(err).Error("category failed")
				if first == nil {
					first = fmt.Errorf("aistiles: category %s: %w", c.Name, err)
				}
				break
			}
		}
	}
	return first
}

// Cleanup runs the CleanupFuncs.
func (t *Tiler) Cleanup() error {
	for i, f := range t.CleanupFuncs {
		if err := f(t); err != nil {
			return fmt.Errorf("aistiles: cleanup step %d: %w", i, err)
		}
	}
	t.End = time.Now()
	return nil
}

func (t *Tiler) log() logrus.FieldLogger {
	if t.Log == nil {
		return logrus.StandardLogger()
	}
	return t.Log
}
