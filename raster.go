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
	"bufio"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// GeoTransform is the affine transform of a north-up raster in web
// mercator: the upper-left corner of the upper-left pixel and the edge
// length of a pixel in meters. Rows run southward.
type GeoTransform struct {
	OriginX, OriginY float64
	PixelSize        float64
}

// Rasterizer converts the points of one tile into an image.
type Rasterizer struct {
	// Resolution is the pixel edge length in meters.
	Resolution float64

	// Pixels is the width and height of the image.
	Pixels int
}

// Rasterize draws points into a transparent Pixels x Pixels image whose
// upper-left corner is (c.MinLon, c.MaxLat). Points that fall outside the
// image are dropped. When several points share a pixel, the color with the
// greatest blue channel is kept, so faster vessels are drawn over slower
// ones regardless of input order. An invalid speed fails the whole tile.
func (r Rasterizer) Rasterize(points []Point, c *Cell) (*image.NRGBA, GeoTransform, error) {
	gt := GeoTransform{OriginX: c.MinLon, OriginY: c.MaxLat, PixelSize: r.Resolution}
	img := image.NewNRGBA(image.Rect(0, 0, r.Pixels, r.Pixels))
	n := float64(r.Pixels)
	for _, p := range points {
		col := math.Floor((p.Lon - c.MinLon) / r.Resolution)
		row := math.Floor((c.MaxLat - p.Lat) / r.Resolution)
		clr, err := SpeedColor(p.Speed)
		if err != nil {
			return nil, gt, fmt.Errorf("aistiles: rasterizing tile %v: %w", c.TileKey, err)
		}
		if !(col >= 0 && col < n && row >= 0 && row < n) {
			continue
		}
		o := img.PixOffset(int(col), int(row))
		if clr.B > img.Pix[o+2] {
			img.Pix[o+0] = clr.R
			img.Pix[o+1] = clr.G
			img.Pix[o+2] = clr.B
			img.Pix[o+3] = clr.A
		}
	}
	return img, gt, nil
}

// RasterizeFile rasterizes the tile content file at path. The returned
// boolean is false, with a nil error, if the file does not exist.
func (r Rasterizer) RasterizeFile(path string, c *Cell) (*image.NRGBA, GeoTransform, bool, error) {
	points, err := ReadTilePoints(path)
	if os.IsNotExist(err) {
		return nil, GeoTransform{}, false, nil
	} else if err != nil {
		return nil, GeoTransform{}, false, err
	}
	img, gt, err := r.Rasterize(points, c)
	if err != nil {
		return nil, gt, false, err
	}
	return img, gt, true, nil
}

// RasterWriter writes a georeferenced web mercator raster.
type RasterWriter interface {
	WriteRaster(path string, img image.Image, gt GeoTransform) error
}

// PNGWorldWriter writes rasters as PNG images with an ESRI world file
// (".pgw") beside them, a layout GDAL reads as a georeferenced raster.
type PNGWorldWriter struct{}

// WriteRaster implements RasterWriter. path should end in ".png".
func (PNGWorldWriter) WriteRaster(path string, img image.Image, gt GeoTransform) error {
	if err := writePNG(path, img); err != nil {
		return fmt.Errorf("aistiles: writing raster: %w", err)
	}
	err := writeFileAtomic(worldFilePath(path), func(w io.Writer) error {
		_, err := io.WriteString(w, gt.worldFile())
		return err
	})
	if err != nil {
		return fmt.Errorf("aistiles: writing world file: %w", err)
	}
	return nil
}

// worldFile formats gt as the six lines of a world file, which refer to
// the center of the upper-left pixel.
func (gt GeoTransform) worldFile() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return strings.Join([]string{
		f(gt.PixelSize), "0", "0", f(-gt.PixelSize),
		f(gt.OriginX + gt.PixelSize/2),
		f(gt.OriginY - gt.PixelSize/2),
	}, "\n") + "\n"
}

func worldFilePath(path string) string {
	return strings.TrimSuffix(path, ".png") + ".pgw"
}

// ReadGeoRaster reads a raster written by PNGWorldWriter.
func ReadGeoRaster(path string) (*image.NRGBA, GeoTransform, error) {
	img, err := readPNG(path)
	if err != nil {
		return nil, GeoTransform{}, err
	}
	f, err := os.Open(worldFilePath(path))
	if err != nil {
		return nil, GeoTransform{}, fmt.Errorf("aistiles: reading world file: %w", err)
	}
	defer f.Close()
	var v []float64
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		x, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, GeoTransform{}, fmt.Errorf("aistiles: parsing world file: %w", err)
		}
		v = append(v, x)
	}
	if err := s.Err(); err != nil {
		return nil, GeoTransform{}, fmt.Errorf("aistiles: reading world file: %w", err)
	}
	if len(v) != 6 {
		return nil, GeoTransform{}, fmt.Errorf("aistiles: world file %s has %d values, want 6", worldFilePath(path), len(v))
	}
	if v[1] != 0 || v[2] != 0 || v[0] <= 0 || v[3] != -v[0] {
		return nil, GeoTransform{}, fmt.Errorf("aistiles: world file %s is not a north-up square-pixel transform", worldFilePath(path))
	}
	gt := GeoTransform{
		OriginX:   v[4] - v[0]/2,
		OriginY:   v[5] + v[0]/2,
		PixelSize: v[0],
	}
	return img, gt, nil
}

func readPNG(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("aistiles: decoding %s: %w", path, err)
	}
	return toNRGBA(img), nil
}

func writePNG(path string, img image.Image) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}

// toNRGBA returns img as a non-premultiplied RGBA image with its bounds
// moved to the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Rect, img, b.Min, draw.Src)
	return n
}
