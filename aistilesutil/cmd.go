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

// Package aistilesutil contains the command-line interface of aistiles.
package aistilesutil

import (
	"context"
	"fmt"
	"os"

	"github.com/spatialmodel/aistiles"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	tiling := []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags(), locateCmd.Flags()}

	// Options are the configuration options available to aistiles.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum severity of log messages: one of
              trace, debug, info, warn, error, fatal, or panic.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputFile",
			usage: `
              InputFile is the path to the tab-separated table of vessel
              positions. It can include environment variables.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory the output directory of the run is
              created in. It can include environment variables.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   tiling,
		},
		{
			name: "Name",
			usage: `
              Name is the name of the run. The default is the base name of
              InputFile without its extension.`,
			defaultVal: "",
			flagsets:   tiling,
		},
		{
			name: "MinZoom",
			usage: `
              MinZoom is the least detailed zoom level of the tile pyramids.`,
			defaultVal: 0,
			flagsets:   tiling,
		},
		{
			name: "MaxZoom",
			usage: `
              MaxZoom is the most detailed zoom level of the tile pyramids.`,
			defaultVal: 6,
			flagsets:   tiling,
		},
		{
			name: "PixelCount",
			usage: `
              PixelCount is the width and height in pixels of each base
              raster tile.`,
			defaultVal: 3000,
			flagsets:   tiling,
		},
		{
			name: "Resolution",
			usage: `
              Resolution is the base raster pixel size in meters. If zero,
              it is 90% of the pixel size at MaxZoom, rounded down to
              whole meters.`,
			defaultVal: 0.0,
			flagsets:   tiling,
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of units of work run at once in each
              stage. If zero, the number of processors is used.`,
			shorthand:  "w",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), mergeCmd.Flags()},
		},
		{
			name: "SourceProj",
			usage: `
              SourceProj is the spatial reference of the positions in
              InputFile as a proj4 string. They are reprojected to web
              mercator. If empty, positions are assumed to already be in
              web mercator meters.`,
			defaultVal: "+proj=longlat +datum=WGS84",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Columns.Lon",
			usage: `
              Columns.Lon is the name of the longitude (x) column.`,
			defaultVal: aistiles.DefaultColumns.Lon,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Columns.Lat",
			usage: `
              Columns.Lat is the name of the latitude (y) column.`,
			defaultVal: aistiles.DefaultColumns.Lat,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Columns.Speed",
			usage: `
              Columns.Speed is the name of the speed over ground column,
              in knots.`,
			defaultVal: aistiles.DefaultColumns.Speed,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Columns.Category",
			usage: `
              Columns.Category is the name of the vessel category column.`,
			defaultVal: aistiles.DefaultColumns.Category,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Builder",
			usage: `
              Builder selects how base rasters are expanded into tile
              pyramids: "native" renders tiles in process and "gdal2tiles"
              runs the external gdal2tiles program.`,
			defaultVal: "native",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "GDAL2Tiles",
			usage: `
              GDAL2Tiles is the gdal2tiles command used when Builder is
              "gdal2tiles".`,
			defaultVal: "gdal2tiles.py",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "WebViewer",
			usage: `
              WebViewer is passed to gdal2tiles as its --webviewer option
              when Builder is "gdal2tiles". If empty, gdal2tiles writes its
              default viewers.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Resampling",
			usage: `
              Resampling is the resampling method of the native builder:
              priority, nearest, bilinear, or catmullrom. priority keeps the
              fastest vessel visible at every zoom level.`,
			defaultVal: aistiles.ResamplePriority,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TileScheme",
			usage: `
              TileScheme is the row numbering of the pyramid tiles: "tms"
              counts rows from the south and "xyz" from the north.`,
			defaultVal: string(aistiles.TMS),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "KeepIntermediate",
			usage: `
              KeepIntermediate keeps tile content files, base rasters and
              per-worker pyramids after each category is complete.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Combine",
			usage: `
              Combine lists categories whose pyramids are merged into one
              additional pyramid named by CombinedName.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CombinedName",
			usage: `
              CombinedName is the name of the category created by Combine.`,
			defaultVal: "Combined",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "MBTiles",
			usage: `
              MBTiles writes each category pyramid to an MBTiles file in
              the output directory of the run.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Publish",
			usage: `
              Publish is a blob storage location, such as
              "gs://bucket/prefix", "s3://bucket/prefix", or
              "file:///path", to upload the output of the run to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "x",
			usage: `
              x is the web mercator x coordinate to locate.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{locateCmd.Flags()},
		},
		{
			name: "y",
			usage: `
              y is the web mercator y coordinate to locate.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{locateCmd.Flags()},
		},
		{
			name: "target",
			usage: `
              target is the pyramid directory the source pyramids are
              merged into.`,
			shorthand:  "t",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{mergeCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("AISTILES")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(locateCmd)
	Root.AddCommand(mergeCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("aistilesutil: problem reading configuration file: %w", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "aistiles",
	Short: "Web map tiles of vessel positions colored by speed.",
	Long: `aistiles converts a table of vessel (AIS) positions into web map tile
pyramids, one per vessel category plus one for all vessels, with each
position colored by its speed over ground.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'AISTILES_var' where 'var' is the
name of the variable to be set. Path variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of aistiles.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("aistiles v%s\n", aistiles.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create the tile pyramids.",
	Long: `run reads InputFile, partitions its extent into base tiles, routes the
positions of each category into the tiles, rasterizes them, and builds and
merges the tile pyramid of every category.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		_, err = Run(context.Background(), c, log)
		return err
	},
	DisableAutoGenTag: true,
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Create the base tile grid.",
	Long: `grid reads InputFile and writes the base tile grid covering its extent to
tiles_info.csv and tiles_info.shp in the output directory of the run,
without creating any tiles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Grid(c, log)
	},
	DisableAutoGenTag: true,
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Find the base tile containing a point.",
	Long: `locate reads the grid of a previous run or grid command and prints the
base tile containing the web mercator coordinates given by --x and --y.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir(Cfg)
		if err != nil {
			return err
		}
		c, err := Locate(dir, Cfg.GetFloat64("x"), Cfg.GetFloat64("y"))
		if err != nil {
			return err
		}
		cmd.Printf("%s\t%g\t%g\t%g\t%g\n", c.TileKey, c.MinLon, c.MinLat, c.MaxLon, c.MaxLat)
		return nil
	},
	DisableAutoGenTag: true,
}

var mergeCmd = &cobra.Command{
	Use:   "merge SOURCE...",
	Short: "Merge tile pyramids.",
	Long: `merge merges the tile pyramids in the SOURCE directories into the
--target directory. Where more than one pyramid has the same tile, each
pixel keeps the color with the greatest blue channel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		res, err := Merge(context.Background(), Cfg.GetString("target"), args, Cfg.GetInt("Workers"), log)
		if err != nil {
			return err
		}
		cmd.Printf("%d tiles: %d copied, %d merged, %d failed\n", res.Tiles, res.Copied, res.Merged, res.Failed)
		return nil
	},
	DisableAutoGenTag: true,
}
