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
	"io"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/spatialmodel/aistiles/internal/hash"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ManifestFile is the name of the run manifest in the work directory.
const ManifestFile = "run.toml"

// SpeedStats summarizes the speeds of a set of points. Values that are
// negative, NaN or infinite are not counted.
type SpeedStats struct {
	Count        int
	Mean, StdDev float64
	Median, Max  float64
}

// NewSpeedStats computes the statistics of speeds.
func NewSpeedStats(speeds []float64) SpeedStats {
	v := validSpeeds(speeds)
	if len(v) == 0 {
		return SpeedStats{}
	}
	s := SpeedStats{Count: len(v), Max: floats.Max(v)}
	if len(v) == 1 {
		s.Mean = v[0]
	} else {
		s.Mean, s.StdDev = stat.MeanStdDev(v, nil)
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}

func validSpeeds(speeds []float64) []float64 {
	v := make([]float64, 0, len(speeds))
	for _, s := range speeds {
		if s >= 0 && !math.IsInf(s, 0) && !math.IsNaN(s) {
			v = append(v, s)
		}
	}
	return v
}

// speeds returns the speeds of the points of the named category.
func (t *Tiler) speeds(category string) []float64 {
	var s []float64
	for _, p := range t.Points {
		if category == AllCategory || p.Category == category {
			s = append(s, p.Speed)
		}
	}
	return s
}

// SpeedHistogram returns a function that plots the distribution of point
// speeds of a category to "speed_histogram.png" in the category directory.
// Categories with fewer than two distinct speeds are skipped.
func SpeedHistogram() CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		v := validSpeeds(t.speeds(c.Name))
		if len(v) == 0 || floats.Min(v) == floats.Max(v) {
			return nil
		}
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s: vessel speed", c.Name)
		p.X.Label.Text = "Speed over ground (knots)"
		p.Y.Label.Text = "Positions"
		h, err := plotter.NewHist(plotter.Values(v), len(SpeedColors))
		if err != nil {
			return fmt.Errorf("aistiles: speed histogram: %w", err)
		}
		p.Add(h)
		if err := p.Save(6*vg.Inch, 4*vg.Inch, filepath.Join(c.Dir, "speed_histogram.png")); err != nil {
			return fmt.Errorf("aistiles: saving speed histogram: %w", err)
		}
		return nil
	}
}

// WriteCategoryReadme returns a function that writes a README.md describing
// the pyramid of a category and the time each stage took.
func WriteCategoryReadme() CategoryManipulator {
	return func(t *Tiler, c *Category) error {
		return writeFileAtomic(filepath.Join(c.Dir, "README.md"), func(w io.Writer) error {
			return c.writeReadme(w, t)
		})
	}
}

func (c *Category) writeReadme(w io.Writer, t *Tiler) error {
	var total float64
	for _, s := range c.Stages {
		total += s.Seconds
	}
	_, err := fmt.Fprintf(w, `# %s

Tile pyramid of %d vessel positions in %d base tiles.

- Zoom levels: %d to %d, tile origin in the lower left (TMS) unless built with the xyz scheme.
- Base resolution: %g m per pixel, %d x %d pixels per base tile.
- Speed (knots): mean %.2f, median %.2f, max %.2f.

| Stage | Seconds | Units | Failed |
|---|---|---|---|
`, c.Name, c.Points, len(c.Tiles), t.MinZoom, t.MaxZoom, t.Resolution, t.PixelCount, t.PixelCount,
		c.Stats.Mean, c.Stats.Median, c.Stats.Max)
	if err != nil {
		return err
	}
	for _, s := range c.Stages {
		if _, err := fmt.Fprintf(w, "| %s | %.1f | %d | %d |\n", s.Name, s.Seconds, s.Units, s.Failed); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "\nTotal: %.1f s.\n", total)
	return err
}

// Manifest is the machine readable record of a run.
type Manifest struct {
	RunID      string
	Version    string
	ConfigHash string
	Start, End time.Time
	Seconds    float64
	Config     Config
	Categories []CategoryManifest `toml:"category"`
}

// CategoryManifest is the record of one category in a Manifest.
type CategoryManifest struct {
	Name   string
	Points int
	Tiles  int
	Failed int
	Stats  SpeedStats
	Stages []StageResult `toml:"stage"`
}

// NewRunID returns a new random run identifier.
func NewRunID() string { return uuid.NewString() }

// Manifest returns the manifest of the run so far.
func (t *Tiler) Manifest(runID string) Manifest {
	end := t.End
	if end.IsZero() {
		end = time.Now()
	}
	m := Manifest{
		RunID:      runID,
		Version:    Version,
		ConfigHash: hash.Hash(t.Config),
		Start:      t.Start,
		End:        end,
		Seconds:    end.Sub(t.Start).Seconds(),
		Config:     t.Config,
	}
	for _, c := range t.Categories {
		m.Categories = append(m.Categories, CategoryManifest{
			Name:   c.Name,
			Points: c.Points,
			Tiles:  len(c.Tiles),
			Failed: c.Failed(),
			Stats:  c.Stats,
			Stages: c.Stages,
		})
	}
	return m
}

// WriteReport returns a function that writes the run manifest and a
// README.md summarizing the run to the work directory.
func WriteReport(runID string) TilerManipulator {
	return func(t *Tiler) error {
		m := t.Manifest(runID)
		err := writeFileAtomic(filepath.Join(t.WorkDir, ManifestFile), func(w io.Writer) error {
			return toml.NewEncoder(w).Encode(m)
		})
		if err != nil {
			return fmt.Errorf("aistiles: writing manifest: %w", err)
		}
		err = writeFileAtomic(filepath.Join(t.WorkDir, "README.md"), func(w io.Writer) error {
			if _, err := fmt.Fprintf(w, "# Vessel speed tiles\n\nRun %s, version %s.\n\n| Category | Points | Tiles | Failed units |\n|---|---|---|---|\n",
				m.RunID, m.Version); err != nil {
				return err
			}
			for _, c := range m.Categories {
				if _, err := fmt.Fprintf(w, "| %s | %d | %d | %d |\n", c.Name, c.Points, c.Tiles, c.Failed); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(w, "\nTotal time: %.1f s.\n", m.Seconds)
			return err
		})
		if err != nil {
			return fmt.Errorf("aistiles: writing README: %w", err)
		}
		return nil
	}
}

// ReadManifest reads a run manifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return m, fmt.Errorf("aistiles: reading manifest: %w", err)
	}
	return m, nil
}
