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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aistiles"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// RunConfig holds the validated configuration of a tiling run.
type RunConfig struct {
	aistiles.Config

	// InputFile is the point table.
	InputFile string

	// Name is the name of the run and OutputDir the directory holding
	// the output of all runs.
	Name, OutputDir string

	// SourceProj is the spatial reference of the positions in InputFile.
	SourceProj string
	Columns    aistiles.Columns

	Builder aistiles.PyramidBuilder
	Scheme  aistiles.TileScheme

	// Combine lists categories to be merged into CombinedName.
	Combine      []string
	CombinedName string

	MBTiles bool

	// Publish is the blob storage location the output is uploaded to.
	Publish string
}

// RelDir returns the work directory relative to OutputDir.
func (c *RunConfig) RelDir() string {
	return filepath.Join(c.Name, resolutionDir(c.Resolution))
}

func resolutionDir(res float64) string {
	return "Resolution_" + strconv.FormatFloat(res, 'f', -1, 64) + "m_per_pixel"
}

// checkInputFile expands environment variables in the input file path
// and makes sure the file exists.
func checkInputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf("aistilesutil: you need to specify an input file (for example: --InputFile=positions.tsv)")
	}
	f = os.ExpandEnv(f)
	if _, err := os.Stat(f); err != nil {
		return f, fmt.Errorf("aistilesutil: the InputFile doesn't exist: %w", err)
	}
	return f, nil
}

// checkZoom makes sure the zoom range is within the zoom level table.
func checkZoom(min, max int) error {
	top := len(aistiles.ZoomResolutions) - 1
	if min < 0 || max > top || min > max {
		return fmt.Errorf("aistilesutil: the zoom range must satisfy 0 <= MinZoom <= MaxZoom <= %d, but MinZoom=%d and MaxZoom=%d",
			top, min, max)
	}
	return nil
}

// checkResolution returns res, or the default base resolution for maxZoom
// if res is zero.
func checkResolution(res float64, maxZoom int) (float64, error) {
	if res == 0 {
		return aistiles.BaseResolution(maxZoom)
	}
	if !(res > 0) {
		return 0, fmt.Errorf("aistilesutil: Resolution=%g but should be >0", res)
	}
	return res, nil
}

// checkScheme makes sure s is a known tile scheme.
func checkScheme(s string) (aistiles.TileScheme, error) {
	switch scheme := aistiles.TileScheme(strings.ToLower(s)); scheme {
	case aistiles.TMS, aistiles.XYZ:
		return scheme, nil
	}
	return "", fmt.Errorf("aistilesutil: TileScheme needs to be either tms or xyz, but is currently set to `%s`", s)
}

// checkResampling makes sure r is a resampling method of the native
// pyramid builder.
func checkResampling(r string) (string, error) {
	switch r {
	case aistiles.ResamplePriority, aistiles.ResampleNearest, aistiles.ResampleBilinear, aistiles.ResampleCatmull:
		return r, nil
	}
	return "", fmt.Errorf("aistilesutil: Resampling needs to be one of priority, nearest, bilinear, or catmullrom, but is currently set to `%s`", r)
}

// newBuilder returns the pyramid builder selected in cfg.
func newBuilder(cfg *viper.Viper, minZoom, maxZoom int, scheme aistiles.TileScheme) (aistiles.PyramidBuilder, error) {
	switch b := cfg.GetString("Builder"); b {
	case "native", "":
		r, err := checkResampling(cfg.GetString("Resampling"))
		if err != nil {
			return nil, err
		}
		return aistiles.NativePyramid{MinZoom: minZoom, MaxZoom: maxZoom, Scheme: scheme, Resampling: r}, nil
	case "gdal2tiles":
		return aistiles.GDAL2Tiles{
			Command:   os.ExpandEnv(cfg.GetString("GDAL2Tiles")),
			MinZoom:   minZoom,
			MaxZoom:   maxZoom,
			Scheme:    scheme,
			WebViewer: cfg.GetString("WebViewer"),
		}, nil
	default:
		return nil, fmt.Errorf("aistilesutil: Builder needs to be either native or gdal2tiles, but is currently set to `%s`", b)
	}
}

// runName returns name, or the base name of inputFile without its
// extension if name is empty.
func runName(name, inputFile string) string {
	if name != "" {
		return name
	}
	base := filepath.Base(inputFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// workDir returns the work directory configured in cfg without checking
// the input file, for commands that read the output of an earlier run.
func workDir(cfg *viper.Viper) (string, error) {
	minZoom, maxZoom := cfg.GetInt("MinZoom"), cfg.GetInt("MaxZoom")
	if err := checkZoom(minZoom, maxZoom); err != nil {
		return "", err
	}
	res, err := checkResolution(cfg.GetFloat64("Resolution"), maxZoom)
	if err != nil {
		return "", err
	}
	name := runName(os.ExpandEnv(cfg.GetString("Name")), os.ExpandEnv(cfg.GetString("InputFile")))
	if name == "" || name == "." {
		return "", fmt.Errorf("aistilesutil: you need to specify either Name or InputFile")
	}
	return filepath.Join(os.ExpandEnv(cfg.GetString("OutputDir")), name, resolutionDir(res)), nil
}

// LoadConfig reads and validates the configuration of a tiling run.
func LoadConfig(cfg *viper.Viper) (*RunConfig, error) {
	in, err := checkInputFile(cfg.GetString("InputFile"))
	if err != nil {
		return nil, err
	}
	c := &RunConfig{
		InputFile:  in,
		OutputDir:  os.ExpandEnv(cfg.GetString("OutputDir")),
		SourceProj: cfg.GetString("SourceProj"),
		Columns: aistiles.Columns{
			Lon:      cfg.GetString("Columns.Lon"),
			Lat:      cfg.GetString("Columns.Lat"),
			Speed:    cfg.GetString("Columns.Speed"),
			Category: cfg.GetString("Columns.Category"),
		},
		CombinedName: cfg.GetString("CombinedName"),
		MBTiles:      cfg.GetBool("MBTiles"),
		Publish:      os.ExpandEnv(cfg.GetString("Publish")),
	}
	c.Name = runName(os.ExpandEnv(cfg.GetString("Name")), in)
	c.MinZoom, c.MaxZoom = cfg.GetInt("MinZoom"), cfg.GetInt("MaxZoom")
	if err := checkZoom(c.MinZoom, c.MaxZoom); err != nil {
		return nil, err
	}
	if c.Resolution, err = checkResolution(cfg.GetFloat64("Resolution"), c.MaxZoom); err != nil {
		return nil, err
	}
	if c.PixelCount = cfg.GetInt("PixelCount"); c.PixelCount <= 0 {
		return nil, fmt.Errorf("aistilesutil: PixelCount=%d but should be >0", c.PixelCount)
	}
	if c.Workers = cfg.GetInt("Workers"); c.Workers < 0 {
		return nil, fmt.Errorf("aistilesutil: Workers=%d but should be >=0", c.Workers)
	}
	c.KeepIntermediate = cfg.GetBool("KeepIntermediate")
	if c.Scheme, err = checkScheme(cfg.GetString("TileScheme")); err != nil {
		return nil, err
	}
	if c.Builder, err = newBuilder(cfg, c.MinZoom, c.MaxZoom, c.Scheme); err != nil {
		return nil, err
	}
	if c.Combine, err = cast.ToStringSliceE(cfg.Get("Combine")); err != nil {
		return nil, fmt.Errorf("aistilesutil: Combine: %w", err)
	}
	for _, n := range []string{c.Columns.Lon, c.Columns.Lat, c.Columns.Speed, c.Columns.Category} {
		if n == "" {
			return nil, fmt.Errorf("aistilesutil: column names must not be empty: %+v", c.Columns)
		}
	}
	c.WorkDir = filepath.Join(c.OutputDir, c.RelDir())
	return c, nil
}

// newLogger returns a logger writing text to w at the level set by the
// LogLevel option.
func newLogger(cfg *viper.Viper, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.GetString("LogLevel"))
	if err != nil {
		return nil, fmt.Errorf("aistilesutil: LogLevel: %w", err)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}
