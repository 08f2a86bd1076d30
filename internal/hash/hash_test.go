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

package hash

import (
	"math"
	"testing"
)

type config struct {
	Dir   string
	Res   float64
	Zooms []int
}

func TestHash(t *testing.T) {
	a := Hash(config{Dir: "x", Res: 10, Zooms: []int{0, 6}})
	if len(a) != 32 {
		t.Errorf("hash %q is not 128 bits", a)
	}
	if b := Hash(config{Dir: "x", Res: 10, Zooms: []int{0, 6}}); a != b {
		t.Errorf("equal values: %s != %s", a, b)
	}
	if b := Hash(config{Dir: "x", Res: 11, Zooms: []int{0, 6}}); a == b {
		t.Error("different values hash the same")
	}
	if b := Hash(config{Dir: "x", Res: 10, Zooms: []int{0, 6}}, 1); a == b {
		t.Error("extra object ignored")
	}
}

func TestHashFallback(t *testing.T) {
	// gob cannot encode functions, so the spew dump is hashed.
	type unencodable struct{ F func() }
	a := Hash(unencodable{}, math.NaN())
	b := Hash(unencodable{}, math.NaN())
	if a != b {
		t.Errorf("%s != %s", a, b)
	}
}
