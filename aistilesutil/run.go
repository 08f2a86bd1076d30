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

package aistilesutil

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aistiles"
	"github.com/spatialmodel/aistiles/cloud"
)

// Run creates the tile pyramids of every category of the positions in
// c.InputFile. Categories are tiled one after another; within a category
// each stage runs its units of work on c.Workers workers and finishes
// before the next stage starts. Failed units are logged and counted in
// the run report. The first category error, if any, is returned after
// the cleanup steps have run.
func Run(ctx context.Context, c *RunConfig, log logrus.FieldLogger) (*aistiles.Tiler, error) {
	runID := aistiles.NewRunID()
	log = log.WithField("run", runID)

	t := &aistiles.Tiler{
		Config: c.Config,
		Log:    log,
		InitFuncs: []aistiles.TilerManipulator{
			aistiles.LoadPoints(c.InputFile, c.Columns, c.SourceProj),
			aistiles.PartitionGrid(),
			aistiles.RoutePoints(),
		},
		CategoryFuncs: []aistiles.CategoryManipulator{
			aistiles.RasterizeTiles(aistiles.PNGWorldWriter{}),
			aistiles.BuildPyramids(ctx, c.Builder),
			aistiles.MergeWorkers(ctx),
			aistiles.RemoveIntermediates(),
			aistiles.SpeedHistogram(),
			aistiles.WriteCategoryReadme(),
		},
	}
	if len(c.Combine) > 0 {
		t.CleanupFuncs = append(t.CleanupFuncs, aistiles.CombineCategories(ctx, c.CombinedName, c.Combine...))
	}
	if c.MBTiles {
		t.CleanupFuncs = append(t.CleanupFuncs, aistiles.ExportCategoriesMBTiles(ctx, c.Scheme))
	}
	t.CleanupFuncs = append(t.CleanupFuncs, aistiles.WriteReport(runID))
	if c.Publish != "" {
		t.CleanupFuncs = append(t.CleanupFuncs, publish(ctx, c.Publish, filepath.ToSlash(c.RelDir())))
	}

	log.WithFields(logrus.Fields{
		"input":      c.InputFile,
		"output":     c.WorkDir,
		"resolution": c.Resolution,
		"tile_size":  c.TileSize(),
	}).Info("starting run")
	if err := t.Init(); err != nil {
		return t, err
	}
	runErr := t.Run()
	if err := t.Cleanup(); err != nil {
		return t, err
	}
	log.WithField("seconds", t.End.Sub(t.Start).Seconds()).Info("run complete")
	return t, runErr
}

// publish returns a function that uploads the work directory to the blob
// storage location dest under the key prefix sub.
func publish(ctx context.Context, dest, sub string) aistiles.TilerManipulator {
	return func(t *aistiles.Tiler) error {
		_, err := cloud.Publish(ctx, dest, sub, t.WorkDir, t.Log)
		return err
	}
}

// Grid writes the base tile grid covering the positions in c.InputFile
// to the work directory.
func Grid(c *RunConfig, log logrus.FieldLogger) error {
	t := &aistiles.Tiler{
		Config: c.Config,
		Log:    log,
		InitFuncs: []aistiles.TilerManipulator{
			aistiles.LoadPoints(c.InputFile, c.Columns, c.SourceProj),
			aistiles.PartitionGrid(),
			aistiles.WriteGrid(),
		},
	}
	if err := t.Init(); err != nil {
		return err
	}
	log.WithField("file", filepath.Join(c.WorkDir, aistiles.TileInfoFile)).Info("grid successfully created")
	return nil
}

// Locate returns the base tile of the grid in workDir that contains the
// web mercator point (x, y).
func Locate(workDir string, x, y float64) (*aistiles.Cell, error) {
	info, err := aistiles.ReadTileInfo(filepath.Join(workDir, aistiles.TileInfoFile))
	if err != nil {
		return nil, err
	}
	g, err := aistiles.ReadGridFile(filepath.Join(workDir, aistiles.GridFile))
	if err != nil {
		return nil, err
	}
	c, ok := aistiles.IndexFromInfo(info, g).Locate(x, y)
	if !ok {
		return nil, fmt.Errorf("aistilesutil: point (%g, %g) is outside the grid", x, y)
	}
	return c, nil
}

// Merge merges the pyramids in sources into target.
func Merge(ctx context.Context, target string, sources []string, workers int, log logrus.FieldLogger) (aistiles.MergeResult, error) {
	if target == "" {
		return aistiles.MergeResult{}, fmt.Errorf("aistilesutil: you need to specify a --target directory")
	}
	m := &aistiles.Merger{Workers: workers, Log: log}
	return m.MergeTrees(ctx, target, sources...)
}
