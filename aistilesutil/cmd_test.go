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
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/aistiles"
)

func TestVersionCmd(t *testing.T) {
	var b bytes.Buffer
	Root.SetOut(&b)
	Root.SetArgs([]string{"version"})
	defer Root.SetOut(nil)
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "aistiles v" + aistiles.Version + "\n"; b.String() != want {
		t.Errorf("have %q, want %q", b.String(), want)
	}
}

func TestMergeCmd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writePNG(t, filepath.Join(src, "3", "2", "1.png"), 100)

	var b bytes.Buffer
	Root.SetOut(&b)
	Root.SetErr(&b)
	defer func() {
		Root.SetOut(nil)
		Root.SetErr(nil)
	}()
	Root.SetArgs([]string{"merge", "--LogLevel=error", "--target", filepath.Join(dir, "target"), src})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "1 tiles: 1 copied, 0 merged, 0 failed") {
		t.Errorf("unexpected output %q", b.String())
	}
}
