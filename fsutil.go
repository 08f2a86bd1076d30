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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spatialmodel/aistiles/internal/hash"
)

// writeFileAtomic writes a file by passing a temporary file in the same
// directory to write and renaming it to path once write returns
// successfully. Readers therefore never observe a partially written file.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	bw := bufio.NewWriter(f)
	if err = write(bw); err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyFileAtomic copies src to dst byte for byte.
func copyFileAtomic(dst, src string) error {
	r, err := os.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CategoryDir returns a directory name for the given category that is a
// single path element and cannot escape the parent directory.
func CategoryDir(category string) string {
	s := strings.TrimSpace(category)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return fmt.Sprintf("_%s_", strings.Repeat("_", len(s)))
	}
	return s
}

// CategoryDirs assigns every category a distinct directory name.
// AllCategory is assigned first, so it always gets CategoryDir(AllCategory).
// A category whose CategoryDir is already taken, compared without regard
// to case, gets a suffix derived from a hash of its full name.
func CategoryDirs(categories []string) map[string]string {
	dirs := make(map[string]string, len(categories))
	for _, c := range categories {
		if c == AllCategory {
			assignCategoryDir(dirs, c)
		}
	}
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	for _, c := range sorted {
		assignCategoryDir(dirs, c)
	}
	return dirs
}

// assignCategoryDir returns the directory of category in dirs, adding a
// new one that no other category uses if it has none yet.
func assignCategoryDir(dirs map[string]string, category string) string {
	if d, ok := dirs[category]; ok {
		return d
	}
	taken := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		taken[strings.ToLower(d)] = true
	}
	d := CategoryDir(category)
	if taken[strings.ToLower(d)] {
		d += "_" + hash.Hash(category)[:8]
	}
	for i, base := 2, d; taken[strings.ToLower(d)]; i++ {
		d = base + "_" + strconv.Itoa(i)
	}
	dirs[category] = d
	return d
}
