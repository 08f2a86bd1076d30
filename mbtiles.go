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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // database/sql driver "sqlite"
)

var mbtilesSchema = []string{
	"CREATE TABLE metadata (name TEXT, value TEXT)",
	"CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)",
	"CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)",
}

// MBTilesMetadata holds the metadata rows of an MBTiles file.
type MBTilesMetadata struct {
	Name             string
	Description      string
	MinZoom, MaxZoom int

	// Extent is the area covered in web mercator meters.
	Extent *geom.Bounds
}

func (m MBTilesMetadata) rows() [][2]string {
	rows := [][2]string{
		{"name", m.Name},
		{"format", "png"},
		{"type", "overlay"},
		{"version", "1"},
		{"description", m.Description},
		{"minzoom", strconv.Itoa(m.MinZoom)},
		{"maxzoom", strconv.Itoa(m.MaxZoom)},
	}
	if m.Extent != nil && !m.Extent.Empty() {
		lo := project.Point(orb.Point{m.Extent.Min.X, m.Extent.Min.Y}, project.Mercator.ToWGS84)
		hi := project.Point(orb.Point{m.Extent.Max.X, m.Extent.Max.Y}, project.Mercator.ToWGS84)
		f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
		rows = append(rows, [2]string{"bounds", f(lo.Lon()) + "," + f(lo.Lat()) + "," + f(hi.Lon()) + "," + f(hi.Lat())})
	}
	return rows
}

// ExportMBTiles writes the pyramid rooted at dir, whose rows follow scheme,
// to a new MBTiles file at out and returns the number of tiles written.
// An existing file at out is replaced.
func ExportMBTiles(ctx context.Context, dir, out string, scheme TileScheme, meta MBTilesMetadata) (int, error) {
	paths, err := TilePaths(dir)
	if err != nil {
		return 0, fmt.Errorf("aistiles: listing tiles: %w", err)
	}
	tmp := out + ".tmp"
	os.Remove(tmp)
	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return 0, fmt.Errorf("aistiles: creating mbtiles: %w", err)
	}
	n, err := writeMBTiles(ctx, db, dir, paths, scheme, meta)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("aistiles: writing mbtiles: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("aistiles: writing mbtiles: %w", err)
	}
	return n, nil
}

func writeMBTiles(ctx context.Context, db *sql.DB, dir string, paths []string, scheme TileScheme, meta MBTilesMetadata) (int, error) {
	for _, q := range mbtilesSchema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return 0, err
		}
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, r := range meta.rows() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata (name, value) VALUES (?, ?)", r[0], r[1]); err != nil {
			return 0, err
		}
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, rel := range paths {
		z, x, y, _ := ParseTilePath(rel)
		if scheme == XYZ {
			// MBTiles rows are numbered from the south.
			y = (1 << uint(z)) - 1 - y
		}
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, z, x, y, data); err != nil {
			return 0, fmt.Errorf("tile %s: %w", rel, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(paths), nil
}

// ExportCategoriesMBTiles returns a function that writes the pyramid of
// every category to "<category>.mbtiles" in the work directory. A failed
// export is logged and does not stop the others.
func ExportCategoriesMBTiles(ctx context.Context, scheme TileScheme) TilerManipulator {
	return func(t *Tiler) error {
		for _, c := range t.Categories {
			out := c.Dir + ".mbtiles"
			n, err := ExportMBTiles(ctx, c.Dir, out, scheme, MBTilesMetadata{
				Name:        c.Name,
				Description: fmt.Sprintf("Vessel positions colored by speed, category %s", c.Name),
				MinZoom:     t.MinZoom,
				MaxZoom:     t.MaxZoom,
				Extent:      t.Extent,
			})
			log := t.log().WithFields(logrus.Fields{"category": c.Name, "stage": "mbtiles"})
			if err != nil {
				log.WithError(err).Error("exporting mbtiles")
				continue
			}
			log.WithField("tiles", n).Info("exported mbtiles")
		}
		return nil
	}
}
