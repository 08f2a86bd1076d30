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
	"fmt"
	"math"
)

// ZoomResolutions holds the ground resolution in meters per pixel of
// 256-pixel web mercator tiles at the equator, for zoom levels 0 to 18.
var ZoomResolutions = []float64{
	156543.033928041,
	78271.51696402048,
	39135.75848201024,
	19567.87924100512,
	9783.939620502561,
	4891.96981025128,
	2445.98490512564,
	1222.99245256282,
	611.49622628141,
	305.748113140705,
	152.8740565703525,
	76.43702828517625,
	38.21851414258813,
	19.109257071294063,
	9.554628535647032,
	4.777314267823516,
	2.388657133911758,
	1.194328566955879,
	0.5971642834779395,
}

// BaseResolution returns the default base raster resolution for a pyramid
// whose most detailed level is maxZoom: 90% of that level's resolution,
// truncated to whole meters, so the base is slightly finer than the
// finest tiles.
func BaseResolution(maxZoom int) (float64, error) {
	if maxZoom < 0 || maxZoom >= len(ZoomResolutions) {
		return 0, fmt.Errorf("aistiles: zoom level %d out of range [0, %d]", maxZoom, len(ZoomResolutions)-1)
	}
	r := math.Floor(ZoomResolutions[maxZoom] * 90 / 100)
	if r <= 0 {
		return 0, fmt.Errorf("aistiles: zoom level %d is too detailed for a whole-meter base resolution", maxZoom)
	}
	return r, nil
}
