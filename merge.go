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
	"errors"
	"fmt"
	"image"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrShapeMismatch is returned when two tile images to be merged do not
// have the same dimensions.
var ErrShapeMismatch = errors.New("aistiles: tile images differ in shape")

// MergeState is the state of a target tile after a merge step.
type MergeState int

const (
	// Absent means neither the source nor the target had the tile.
	Absent MergeState = iota
	// PresentUncontested means the tile was copied from a source into an
	// empty target location.
	PresentUncontested
	// Merged means a source tile was merged pixel by pixel into an
	// existing target tile.
	Merged
)

func (s MergeState) String() string {
	switch s {
	case Absent:
		return "absent"
	case PresentUncontested:
		return "present"
	case Merged:
		return "merged"
	default:
		return "MergeState(" + strconv.Itoa(int(s)) + ")"
	}
}

// MergeImages merges src into dst. For each pixel, the src pixel replaces
// the dst pixel if its blue channel is strictly greater; ties keep dst.
func MergeImages(dst, src *image.NRGBA) error {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() != sb.Dx() || db.Dy() != sb.Dy() {
		return fmt.Errorf("%w: %dx%d and %dx%d", ErrShapeMismatch, db.Dx(), db.Dy(), sb.Dx(), sb.Dy())
	}
	for y := 0; y < db.Dy(); y++ {
		do := dst.PixOffset(db.Min.X, db.Min.Y+y)
		so := src.PixOffset(sb.Min.X, sb.Min.Y+y)
		for x := 0; x < db.Dx(); x++ {
			d := dst.Pix[do : do+4 : do+4]
			s := src.Pix[so : so+4 : so+4]
			if s[2] > d[2] {
				copy(d, s)
			}
			do += 4
			so += 4
		}
	}
	return nil
}

// MergeTileFile folds the tile image at source into target. If target does
// not exist, source is copied to it unchanged. Otherwise both images are
// merged with MergeImages and the result replaces target. Target is never
// left partially written, and on error it is unchanged.
func MergeTileFile(target, source string) (MergeState, error) {
	ok, err := fileExists(source)
	if err != nil || !ok {
		return Absent, err
	}
	ok, err = fileExists(target)
	if err != nil {
		return Absent, err
	}
	if !ok {
		if err := copyFileAtomic(target, source); err != nil {
			return Absent, fmt.Errorf("aistiles: copying %s: %w", source, err)
		}
		return PresentUncontested, nil
	}
	dst, err := readPNG(target)
	if err != nil {
		return PresentUncontested, err
	}
	src, err := readPNG(source)
	if err != nil {
		return PresentUncontested, err
	}
	if err := MergeImages(dst, src); err != nil {
		return PresentUncontested, fmt.Errorf("merging %s into %s: %w", source, target, err)
	}
	if err := writePNG(target, dst); err != nil {
		return PresentUncontested, fmt.Errorf("aistiles: writing %s: %w", target, err)
	}
	return Merged, nil
}

// ParseTilePath parses a pyramid tile path relative to the pyramid root,
// "{z}/{x}/{y}.png".
func ParseTilePath(rel string) (z, x, y int, ok bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".png") {
		return 0, 0, 0, false
	}
	var v [3]int
	for i, p := range []string{parts[0], parts[1], strings.TrimSuffix(parts[2], ".png")} {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		v[i] = n
	}
	return v[0], v[1], v[2], true
}

// TilePaths returns the relative paths of all pyramid tiles under root in
// lexical order. A missing root has no tiles.
func TilePaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if _, _, _, ok := ParseTilePath(rel); ok {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// MergeResult summarizes a tree merge.
type MergeResult struct {
	// Tiles is the number of distinct tile paths across all sources.
	Tiles int

	// Copied and Merged count the merge steps of each kind.
	Copied, Merged int

	// Failed counts the merge steps that returned an error.
	Failed int
}

// Merger merges pyramid directory trees. Writes to the same target tile
// are serialized with a lock on the tile's path; writes to different tiles
// run in parallel. A Merger may be shared by concurrent callers.
type Merger struct {
	// Workers is the maximum number of tiles merged concurrently.
	// Values less than 1 mean the number of usable processors.
	Workers int

	Log logrus.FieldLogger

	locks KeyedMutex
}

// MergeTrees folds every tile of sources into target. The set of tiles is
// the union over all sources. Sources are applied in lexical order, so
// ties between equal blue channels resolve the same way in every run.
// Failures to merge individual tiles are logged and counted, and the
// remaining sources and tiles are still merged.
func (m *Merger) MergeTrees(ctx context.Context, target string, sources ...string) (MergeResult, error) {
	sources = append([]string(nil), sources...)
	sort.Strings(sources)

	union := make(map[string]bool)
	for _, s := range sources {
		paths, err := TilePaths(s)
		if err != nil {
			return MergeResult{}, fmt.Errorf("aistiles: listing tiles in %s: %w", s, err)
		}
		for _, p := range paths {
			union[p] = true
		}
	}
	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var copied, merged, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(m.Workers))
	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(target, rel)
			key, err := filepath.Abs(dst)
			if err != nil {
				key = dst
			}
			unlock := m.locks.Lock(key)
			defer unlock()
			for _, s := range sources {
				state, err := MergeTileFile(dst, filepath.Join(s, rel))
				if err != nil {
					failed.Add(1)
					m.log().WithFields(logrus.Fields{
						"tile":   rel,
						"source": s,
						"target": target,
						"stage":  "merge",
					}).WithError(err).Error("merging tile")
					continue
				}
				switch state {
				case PresentUncontested:
					copied.Add(1)
				case Merged:
					merged.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	res := MergeResult{
		Tiles:  len(paths),
		Copied: int(copied.Load()),
		Merged: int(merged.Load()),
		Failed: int(failed.Load()),
	}
	return res, err
}

func (m *Merger) log() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}
