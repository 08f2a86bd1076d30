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
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"
)

// tileImage returns a 2x2 tile whose pixels have the given blue channels.
// A zero blue channel is a transparent pixel.
func tileImage(blue ...uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i, b := range blue {
		if b == 0 {
			continue
		}
		img.Pix[i*4+0] = 255 - b
		img.Pix[i*4+1] = 1
		img.Pix[i*4+2] = b
		img.Pix[i*4+3] = 255
	}
	return img
}

func cloneImage(img *image.NRGBA) *image.NRGBA {
	c := *img
	c.Pix = append([]uint8(nil), img.Pix...)
	return &c
}

func TestMergeImages(t *testing.T) {
	a := tileImage(10, 0, 200, 50)
	b := tileImage(20, 30, 100, 50)

	ab := cloneImage(a)
	if err := MergeImages(ab, b); err != nil {
		t.Fatal(err)
	}
	ba := cloneImage(b)
	if err := MergeImages(ba, a); err != nil {
		t.Fatal(err)
	}

	t.Run("per pixel", func(t *testing.T) {
		want := tileImage(20, 30, 200, 50)
		if !bytes.Equal(ab.Pix, want.Pix) {
			t.Errorf("have %v, want %v", ab.Pix, want.Pix)
		}
	})
	t.Run("commutative", func(t *testing.T) {
		if !bytes.Equal(ab.Pix, ba.Pix) {
			t.Errorf("merge(a, b) = %v but merge(b, a) = %v", ab.Pix, ba.Pix)
		}
	})
	t.Run("idempotent", func(t *testing.T) {
		aa := cloneImage(a)
		if err := MergeImages(aa, a); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(aa.Pix, a.Pix) {
			t.Errorf("merge(a, a) = %v, want %v", aa.Pix, a.Pix)
		}
	})
	t.Run("tie keeps target", func(t *testing.T) {
		dst := tileImage(50)
		src := tileImage(50)
		src.Pix[0] = 7
		if err := MergeImages(dst, src); err != nil {
			t.Fatal(err)
		}
		if dst.Pix[0] != 255-50 {
			t.Errorf("tie replaced the target pixel")
		}
	})
}

func TestMergeImagesShapeMismatch(t *testing.T) {
	dst := tileImage(1, 2, 3, 4)
	before := append([]uint8(nil), dst.Pix...)
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	if err := MergeImages(dst, src); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("have error %v, want ErrShapeMismatch", err)
	}
	if !bytes.Equal(dst.Pix, before) {
		t.Error("target changed after a failed merge")
	}
}

func writeTile(t *testing.T, root, rel string, img *image.NRGBA) {
	t.Helper()
	if err := writePNG(filepath.Join(root, filepath.FromSlash(rel)), img); err != nil {
		t.Fatal(err)
	}
}

func readTile(t *testing.T, root, rel string) *image.NRGBA {
	t.Helper()
	img, err := readPNG(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestMergeTileFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "out", "dst.png")

	state, err := MergeTileFile(dst, filepath.Join(dir, "missing.png"))
	if err != nil || state != Absent {
		t.Errorf("missing source: have %v, %v", state, err)
	}

	if err := writePNG(src, tileImage(10, 0, 200, 0)); err != nil {
		t.Fatal(err)
	}
	state, err = MergeTileFile(dst, src)
	if err != nil || state != PresentUncontested {
		t.Fatalf("copy: have %v, %v", state, err)
	}
	a, _ := os.ReadFile(src)
	b, _ := os.ReadFile(dst)
	if !bytes.Equal(a, b) {
		t.Error("uncontested tile was not copied verbatim")
	}

	if err := writePNG(src, tileImage(0, 30, 100, 40)); err != nil {
		t.Fatal(err)
	}
	state, err = MergeTileFile(dst, src)
	if err != nil || state != Merged {
		t.Fatalf("merge: have %v, %v", state, err)
	}
	want := tileImage(10, 30, 200, 40)
	if have := readTile(t, filepath.Dir(dst), "dst.png"); !bytes.Equal(have.Pix, want.Pix) {
		t.Errorf("have %v, want %v", have.Pix, want.Pix)
	}

	big := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	if err := writePNG(src, big); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(dst)
	if _, err = MergeTileFile(dst, src); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("have error %v, want ErrShapeMismatch", err)
	}
	after, _ := os.ReadFile(dst)
	if !bytes.Equal(before, after) {
		t.Error("target changed after a failed merge")
	}
}

func TestParseTilePath(t *testing.T) {
	for _, test := range []struct {
		rel     string
		z, x, y int
		ok      bool
	}{
		{"3/4/5.png", 3, 4, 5, true},
		{filepath.Join("12", "100", "2000.png"), 12, 100, 2000, true},
		{"3/4/5.jpg", 0, 0, 0, false},
		{"README.md", 0, 0, 0, false},
		{"rasters/2_3.png", 0, 0, 0, false},
		{"3/4/.5.png.tmp123", 0, 0, 0, false},
		{"a/4/5.png", 0, 0, 0, false},
		{"-1/4/5.png", 0, 0, 0, false},
	} {
		z, x, y, ok := ParseTilePath(test.rel)
		if ok != test.ok || z != test.z || x != test.x || y != test.y {
			t.Errorf("%s: have %d %d %d %v", test.rel, z, x, y, ok)
		}
	}
}

func TestMergeTrees(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeTile(t, a, "1/0/0.png", tileImage(10, 20, 30, 40))
	writeTile(t, a, "1/1/0.png", tileImage(5, 5, 5, 5))
	writeTile(t, b, "1/0/0.png", tileImage(40, 30, 20, 10))
	writeTile(t, b, "1/1/1.png", tileImage(9, 0, 0, 9))
	if err := os.WriteFile(filepath.Join(b, "openlayers.html"), []byte("viewer"), 0o644); err != nil {
		t.Fatal(err)
	}

	merge := func(t *testing.T, target string, sources ...string) MergeResult {
		m := &Merger{Workers: 3}
		res, err := m.MergeTrees(context.Background(), target, sources...)
		if err != nil {
			t.Fatal(err)
		}
		if m.locks.held() != 0 {
			t.Errorf("%d locks still held", m.locks.held())
		}
		return res
	}

	t1 := filepath.Join(dir, "t1")
	res := merge(t, t1, a, b)
	wantRes := MergeResult{Tiles: 3, Copied: 3, Merged: 1}
	if res != wantRes {
		t.Errorf("result: have %+v, want %+v", res, wantRes)
	}

	t.Run("union", func(t *testing.T) {
		paths, err := TilePaths(t1)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{filepath.Join("1", "0", "0.png"), filepath.Join("1", "1", "0.png"), filepath.Join("1", "1", "1.png")}
		if !reflect.DeepEqual(paths, want) {
			t.Errorf("have %v, want %v", paths, want)
		}
		if have := readTile(t, t1, "1/1/0.png"); !bytes.Equal(have.Pix, tileImage(5, 5, 5, 5).Pix) {
			t.Error("tile only in a was changed")
		}
		if have := readTile(t, t1, "1/0/0.png"); !bytes.Equal(have.Pix, tileImage(40, 30, 30, 40).Pix) {
			t.Errorf("merged tile: have %v", have.Pix)
		}
	})

	t.Run("order", func(t *testing.T) {
		t2 := filepath.Join(dir, "t2")
		merge(t, t2, b, a)
		for _, rel := range []string{"1/0/0.png", "1/1/0.png", "1/1/1.png"} {
			if !bytes.Equal(readTile(t, t1, rel).Pix, readTile(t, t2, rel).Pix) {
				t.Errorf("%s depends on source order", rel)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		t3 := filepath.Join(dir, "t3")
		merge(t, t3, a, a)
		for _, rel := range []string{"1/0/0.png", "1/1/0.png"} {
			if !bytes.Equal(readTile(t, t3, rel).Pix, readTile(t, a, rel).Pix) {
				t.Errorf("%s: merge(a, a) != a", rel)
			}
		}
	})

	t.Run("missing source", func(t *testing.T) {
		t4 := filepath.Join(dir, "t4")
		res := merge(t, t4, a, filepath.Join(dir, "does-not-exist"))
		if res.Tiles != 2 || res.Failed != 0 {
			t.Errorf("have %+v", res)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		c := filepath.Join(dir, "c")
		writeTile(t, c, "1/0/0.png", image.NewNRGBA(image.Rect(0, 0, 3, 3)))
		t5 := filepath.Join(dir, "t5")
		res := merge(t, t5, a, c)
		if res.Failed != 1 {
			t.Errorf("have %d failures, want 1", res.Failed)
		}
		if have := readTile(t, t5, "1/0/0.png"); !bytes.Equal(have.Pix, tileImage(10, 20, 30, 40).Pix) {
			t.Error("failed merge changed the target tile")
		}
	})
}

func TestMergeTreesConcurrent(t *testing.T) {
	const n = 8
	dir := t.TempDir()
	sources := make([]string, n)
	for i := range sources {
		sources[i] = filepath.Join(dir, fmt.Sprintf("src%d", i))
		for _, rel := range []string{"2/0/0.png", "2/1/0.png", "2/1/1.png"} {
			blue := make([]uint8, 4)
			for k := range blue {
				if (i+k)%5 != 0 {
					blue[k] = uint8(1 + (i*37+k*53+len(rel)*i)%250)
				}
			}
			writeTile(t, sources[i], rel, tileImage(blue...))
		}
		writeTile(t, sources[i], fmt.Sprintf("2/3/%d.png", i), tileImage(uint8(i+1), 0, 0, 0))
	}

	want := filepath.Join(dir, "sequential")
	seq := &Merger{Workers: 1}
	for _, src := range sources {
		if _, err := seq.MergeTrees(context.Background(), want, src); err != nil {
			t.Fatal(err)
		}
	}

	have := filepath.Join(dir, "concurrent")
	m := &Merger{Workers: 2}
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]MergeResult, n)
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			results[i], errs[i] = m.MergeTrees(context.Background(), have, src)
		}(i, src)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("source %d: %v", i, err)
		}
		if results[i].Failed != 0 || results[i].Tiles != 4 {
			t.Errorf("source %d: %+v", i, results[i])
		}
	}
	if m.locks.held() != 0 {
		t.Errorf("%d locks still held", m.locks.held())
	}

	wantPaths, err := TilePaths(want)
	if err != nil {
		t.Fatal(err)
	}
	havePaths, err := TilePaths(have)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(havePaths, wantPaths) {
		t.Fatalf("tiles: have %v, want %v", havePaths, wantPaths)
	}
	if len(havePaths) != 3+n {
		t.Errorf("have %d tiles, want %d", len(havePaths), 3+n)
	}
	for _, rel := range wantPaths {
		if !bytes.Equal(readTile(t, have, rel).Pix, readTile(t, want, rel).Pix) {
			t.Errorf("%s differs from the sequential merge", rel)
		}
	}
}

func TestMergerWorkers(t *testing.T) {
	if n := workerCount(0); n != runtime.GOMAXPROCS(0) {
		t.Errorf("zero workers: have %d, want %d", n, runtime.GOMAXPROCS(0))
	}
	if n := workerCount(-1); n != runtime.GOMAXPROCS(0) {
		t.Errorf("negative workers: have %d, want %d", n, runtime.GOMAXPROCS(0))
	}
	if n := workerCount(3); n != 3 {
		t.Errorf("have %d, want 3", n)
	}
}

func TestKeyedMutex(t *testing.T) {
	var k KeyedMutex
	unlockA := k.Lock("a")

	// A different key is not blocked.
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on b blocked by lock on a")
	}

	// The same key is blocked until it is unlocked.
	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("lock on a acquired twice")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on a was not released")
	}

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("c")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if n := k.held(); n != 0 {
		t.Errorf("%d keys still held", n)
	}
}
