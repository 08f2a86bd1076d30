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

// Package hash computes stable content hashes of Go values, used to tell
// whether two runs were configured identically.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Hash returns a hexadecimal hash of objects. Values are gob encoded; if
// gob cannot encode them (for example NaN map keys or unexported fields
// only), their spew dump is hashed instead.
func Hash(objects ...interface{}) string {
	h := fnv.New128a()
	e := gob.NewEncoder(h)
	for _, o := range objects {
		if err := e.Encode(o); err != nil {
			h.Reset()
			for _, o := range objects {
				printer.Fprintf(h, "%#v", o)
			}
			break
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
