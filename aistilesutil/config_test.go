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
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aistiles"
	"github.com/spf13/viper"
)

// positions are vessel positions in longitude and latitude degrees.
const positions = `lon	lat	sog	QO_category
10	50	5	cargo
13.5	51	15	cargo
11	52.5	20	tanker
12.2	50.8	1	tanker
`

// testConfig returns a configuration holding the default value of every
// option, with InputFile set to a new file holding positions.
func testConfig(t *testing.T) *viper.Viper {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "positions.tsv")
	if err := os.WriteFile(in, []byte(positions), 0o644); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	for _, o := range options {
		v.SetDefault(o.name, o.defaultVal)
	}
	v.Set("InputFile", in)
	v.Set("OutputDir", filepath.Join(dir, "out"))
	return v
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoadConfig(t *testing.T) {
	cfg := testConfig(t)
	c, err := LoadConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "positions" {
		t.Errorf("name: %q", c.Name)
	}
	if !reflect.DeepEqual(c.Columns, aistiles.DefaultColumns) {
		t.Errorf("columns: %v", pretty.Diff(c.Columns, aistiles.DefaultColumns))
	}
	res, _ := aistiles.BaseResolution(6)
	if c.Resolution != res || c.PixelCount != 3000 || c.MinZoom != 0 || c.MaxZoom != 6 {
		t.Errorf("grid: %+v", c.Config)
	}
	if c.Scheme != aistiles.TMS {
		t.Errorf("scheme: %q", c.Scheme)
	}
	want := aistiles.NativePyramid{MaxZoom: 6, Scheme: aistiles.TMS, Resampling: aistiles.ResamplePriority}
	if !reflect.DeepEqual(c.Builder, want) {
		t.Errorf("builder: %#v", c.Builder)
	}
	if len(c.Combine) != 0 || c.MBTiles || c.Publish != "" {
		t.Errorf("cleanup options: %+v", c)
	}
	wantDir := filepath.Join(cfg.GetString("OutputDir"), "positions", "Resolution_2201m_per_pixel")
	if c.WorkDir != wantDir {
		t.Errorf("work directory: have %s, want %s", c.WorkDir, wantDir)
	}
	if d, err := workDir(cfg); err != nil || d != wantDir {
		t.Errorf("workDir: %s, %v", d, err)
	}
}

func TestLoadConfigOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Set("Name", "baltic")
	cfg.Set("Resolution", 500.0)
	cfg.Set("TileScheme", "XYZ")
	cfg.Set("Builder", "gdal2tiles")
	cfg.Set("Combine", []string{"cargo", "tanker"})
	cfg.Set("Columns.Category", "type")
	c, err := LoadConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.RelDir() != filepath.Join("baltic", "Resolution_500m_per_pixel") {
		t.Errorf("relative directory: %s", c.RelDir())
	}
	if c.Scheme != aistiles.XYZ {
		t.Errorf("scheme: %q", c.Scheme)
	}
	g, ok := c.Builder.(aistiles.GDAL2Tiles)
	if !ok || g.Command != "gdal2tiles.py" || g.Scheme != aistiles.XYZ || g.MaxZoom != 6 || g.WebViewer != "" {
		t.Errorf("builder: %#v", c.Builder)
	}

	cfg.Set("WebViewer", "leaflet")
	c, err = LoadConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if g := c.Builder.(aistiles.GDAL2Tiles); g.WebViewer != "leaflet" {
		t.Errorf("web viewer: %q", g.WebViewer)
	}
	if !reflect.DeepEqual(c.Combine, []string{"cargo", "tanker"}) {
		t.Errorf("combine: %v", c.Combine)
	}
	if c.Columns.Category != "type" {
		t.Errorf("category column: %q", c.Columns.Category)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, test := range []struct {
		name, key string
		val       interface{}
		msg       string
	}{
		{"no input", "InputFile", "", "specify an input file"},
		{"missing input", "InputFile", "/no/such/positions.tsv", "doesn't exist"},
		{"zoom order", "MinZoom", 7, "MinZoom=7 and MaxZoom=6"},
		{"zoom range", "MaxZoom", 19, "MaxZoom <= 18"},
		{"resolution", "Resolution", -1.0, "Resolution=-1"},
		{"pixels", "PixelCount", 0, "PixelCount=0"},
		{"workers", "Workers", -2, "Workers=-2"},
		{"scheme", "TileScheme", "wmts", "`wmts`"},
		{"builder", "Builder", "mapnik", "`mapnik`"},
		{"resampling", "Resampling", "lanczos", "`lanczos`"},
		{"column", "Columns.Speed", "", "column names"},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Set(test.key, test.val)
			_, err := LoadConfig(cfg)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q does not contain %q", err, test.msg)
			}
		})
	}
}

func TestRunName(t *testing.T) {
	for _, test := range []struct{ name, in, want string }{
		{"baltic", "x/positions.tsv", "baltic"},
		{"", "x/positions.tsv", "positions"},
		{"", "/data/ais.2019.csv", "ais.2019"},
	} {
		if have := runName(test.name, test.in); have != test.want {
			t.Errorf("runName(%q, %q) = %q, want %q", test.name, test.in, have, test.want)
		}
	}
}

func TestResolutionDir(t *testing.T) {
	for res, want := range map[float64]string{
		2201:  "Resolution_2201m_per_pixel",
		0.5:   "Resolution_0.5m_per_pixel",
		1e5:   "Resolution_100000m_per_pixel",
		137.6: "Resolution_137.6m_per_pixel",
	} {
		if have := resolutionDir(res); have != want {
			t.Errorf("%g: have %s, want %s", res, have, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	cfg := viper.New()
	cfg.Set("LogLevel", "warn")
	log, err := newLogger(cfg, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("level: %v", log.GetLevel())
	}
	cfg.Set("LogLevel", "loud")
	if _, err := newLogger(cfg, io.Discard); err == nil {
		t.Error("expected an error for an invalid level")
	}
}
