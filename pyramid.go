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
	"image"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// PyramidBuilder expands one base raster into a directory of pyramid tiles
// laid out as "{z}/{x}/{y}.png" under outDir.
type PyramidBuilder interface {
	BuildPyramid(ctx context.Context, raster, outDir string) error
}

// TileScheme is the row numbering of pyramid tiles.
type TileScheme string

const (
	// TMS numbers rows from the south, as gdal2tiles does by default.
	TMS TileScheme = "tms"
	// XYZ numbers rows from the north, as most web map clients expect.
	XYZ TileScheme = "xyz"
)

// row converts an XYZ row to the scheme's row numbering.
func (s TileScheme) row(y uint32, z maptile.Zoom) uint32 {
	if s == TMS {
		return (1 << uint(z)) - 1 - y
	}
	return y
}

// GDAL2Tiles builds pyramids with the gdal2tiles program.
type GDAL2Tiles struct {
	// Command is the gdal2tiles executable, "gdal2tiles.py" if empty.
	Command string

	MinZoom, MaxZoom int
	Scheme           TileScheme

	// WebViewer is passed as the --webviewer option if not empty.
	WebViewer string

	// Args are appended to the generated arguments.
	Args []string
}

func (g GDAL2Tiles) args(raster, outDir string) []string {
	args := []string{
		"-z", fmt.Sprintf("%d-%d", g.MinZoom, g.MaxZoom),
		"-s", "EPSG:3857",
	}
	if g.Scheme == XYZ {
		args = append(args, "--xyz")
	}
	if g.WebViewer != "" {
		args = append(args, "-w", g.WebViewer)
	}
	args = append(args, g.Args...)
	return append(args, raster, outDir)
}

// BuildPyramid implements PyramidBuilder. A non-zero exit status is
// returned as an error holding the command line and its output.
func (g GDAL2Tiles) BuildPyramid(ctx context.Context, raster, outDir string) error {
	command := g.Command
	if command == "" {
		command = "gdal2tiles.py"
	}
	args := g.args(raster, outDir)
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("aistiles: %s %s: %w\n%s", command, strings.Join(args, " "), err, out)
	}
	return nil
}

// Resampling methods for NativePyramid.
const (
	// ResamplePriority keeps, for each tile pixel, the covered base pixel
	// with the greatest blue channel, so the fastest vessel stays visible
	// at every zoom level.
	ResamplePriority = "priority"
	ResampleNearest  = "nearest"
	ResampleBilinear = "bilinear"
	ResampleCatmull  = "catmullrom"
)

// NativePyramid renders pyramid tiles directly from a raster written by
// PNGWorldWriter, without external programs.
type NativePyramid struct {
	MinZoom, MaxZoom int
	Scheme           TileScheme

	// Resampling is one of the Resample constants. The zero value means
	// ResamplePriority.
	Resampling string

	// TileSize is the tile edge length in pixels, 256 if zero.
	TileSize int
}

// interpolator returns the x/image/draw interpolator for the resampling
// method, or nil for ResamplePriority.
func (p NativePyramid) interpolator() (draw.Interpolator, error) {
	switch p.Resampling {
	case "", ResamplePriority:
		return nil, nil
	case ResampleNearest:
		return draw.NearestNeighbor, nil
	case ResampleBilinear:
		return draw.BiLinear, nil
	case ResampleCatmull:
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("aistiles: invalid resampling method %q", p.Resampling)
	}
}

// mercBounds is an axis-aligned box in web mercator meters.
type mercBounds struct {
	minX, minY, maxX, maxY float64
}

func tileMercBounds(t maptile.Tile) mercBounds {
	b := t.Bound()
	lo := project.Point(b.Min, project.WGS84.ToMercator)
	hi := project.Point(b.Max, project.WGS84.ToMercator)
	return mercBounds{minX: lo[0], minY: lo[1], maxX: hi[0], maxY: hi[1]}
}

// coveringTiles returns the range of tiles at zoom z that intersect b.
// eps is moved inward from the maximum corner so that a raster ending on a
// tile edge does not pull in the next tile.
func coveringTiles(b mercBounds, z maptile.Zoom, eps float64) (min, max maptile.Tile) {
	ll := project.Point(orb.Point{b.minX, b.minY}, project.Mercator.ToWGS84)
	ur := project.Point(orb.Point{b.maxX - eps, b.maxY - eps}, project.Mercator.ToWGS84)
	a := maptile.At(ll, z)
	c := maptile.At(ur, z)
	min = maptile.New(a.X, c.Y, z)
	max = maptile.New(c.X, a.Y, z)
	return min, max
}

// BuildPyramid implements PyramidBuilder. Tiles that would be fully
// transparent are not written.
func (p NativePyramid) BuildPyramid(ctx context.Context, raster, outDir string) error {
	interp, err := p.interpolator()
	if err != nil {
		return err
	}
	img, gt, err := ReadGeoRaster(raster)
	if err != nil {
		return err
	}
	size := p.TileSize
	if size == 0 {
		size = 256
	}
	rb := mercBounds{
		minX: gt.OriginX,
		maxX: gt.OriginX + float64(img.Rect.Dx())*gt.PixelSize,
		maxY: gt.OriginY,
		minY: gt.OriginY - float64(img.Rect.Dy())*gt.PixelSize,
	}
	for z := p.MinZoom; z <= p.MaxZoom; z++ {
		zoom := maptile.Zoom(z)
		lo, hi := coveringTiles(rb, zoom, gt.PixelSize/2)
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				t := maptile.New(x, y, zoom)
				tb := tileMercBounds(t)
				var tile *image.NRGBA
				if interp == nil {
					tile = renderPriority(img, gt, tb, size)
				} else {
					tile = renderInterpolated(img, gt, tb, size, interp)
				}
				if transparent(tile) {
					continue
				}
				path := filepath.Join(outDir, strconv.Itoa(z), strconv.FormatUint(uint64(x), 10),
					strconv.FormatUint(uint64(p.Scheme.row(y, zoom)), 10)+".png")
				if err := writePNG(path, tile); err != nil {
					return fmt.Errorf("aistiles: writing pyramid tile: %w", err)
				}
			}
		}
	}
	return nil
}

// renderPriority renders the size x size tile covering tb by keeping, for
// each tile pixel, the base pixel with the greatest blue channel among
// those whose centers fall in the tile pixel. When tile pixels are smaller
// than base pixels, the base pixel under the tile pixel center is used.
func renderPriority(img *image.NRGBA, gt GeoTransform, tb mercBounds, size int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	res := (tb.maxX - tb.minX) / float64(size)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for py := 0; py < size; py++ {
		top := tb.maxY - float64(py)*res
		r0 := int(math.Ceil((gt.OriginY-top)/gt.PixelSize - 0.5))
		r1 := int(math.Ceil((gt.OriginY-(top-res))/gt.PixelSize - 0.5))
		if r1 <= r0 {
			r0 = int(math.Floor((gt.OriginY - (top - res/2)) / gt.PixelSize))
			r1 = r0 + 1
		}
		if r1 <= 0 || r0 >= h {
			continue
		}
		r0, r1 = clampInt(r0, 0, h), clampInt(r1, 0, h)
		for px := 0; px < size; px++ {
			left := tb.minX + float64(px)*res
			c0 := int(math.Ceil((left-gt.OriginX)/gt.PixelSize - 0.5))
			c1 := int(math.Ceil((left+res-gt.OriginX)/gt.PixelSize - 0.5))
			if c1 <= c0 {
				c0 = int(math.Floor((left + res/2 - gt.OriginX) / gt.PixelSize))
				c1 = c0 + 1
			}
			if c1 <= 0 || c0 >= w {
				continue
			}
			c0, c1 = clampInt(c0, 0, w), clampInt(c1, 0, w)
			o := out.PixOffset(px, py)
			dst := out.Pix[o : o+4 : o+4]
			for r := r0; r < r1; r++ {
				so := img.PixOffset(c0, r)
				for c := c0; c < c1; c++ {
					src := img.Pix[so : so+4 : so+4]
					if src[2] > dst[2] {
						copy(dst, src)
					}
					so += 4
				}
			}
		}
	}
	return out
}

func renderInterpolated(img *image.NRGBA, gt GeoTransform, tb mercBounds, size int, interp draw.Interpolator) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	res := (tb.maxX - tb.minX) / float64(size)
	scale := gt.PixelSize / res
	s2d := f64.Aff3{
		scale, 0, (gt.OriginX - tb.minX) / res,
		0, scale, (tb.maxY - gt.OriginY) / res,
	}
	interp.Transform(out, s2d, img, img.Rect, draw.Over, nil)
	return out
}

func transparent(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
