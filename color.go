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
	"errors"
	"fmt"
	"image/color"
	"math"
)

// ErrInvalidSpeed is returned for a negative or NaN speed.
var ErrInvalidSpeed = errors.New("aistiles: invalid speed")

// SpeedColors maps speed in knots, rounded and clamped to [0, 20], to a
// pixel color. The ramp runs from green at rest to blue at 20 knots and
// its blue channel increases with speed.
var SpeedColors = [21]color.NRGBA{
	{45, 255, 45, 255},
	{43, 242, 56, 255},
	{41, 230, 66, 255},
	{38, 217, 77, 255},
	{36, 204, 87, 255},
	{34, 191, 98, 255},
	{32, 179, 108, 255},
	{29, 166, 119, 255},
	{27, 153, 129, 255},
	{25, 140, 140, 255},
	{23, 128, 150, 255},
	{20, 115, 161, 255},
	{18, 102, 171, 255},
	{16, 89, 182, 255},
	{14, 77, 192, 255},
	{11, 64, 203, 255},
	{9, 51, 212, 255},
	{6, 38, 224, 255},
	{5, 26, 234, 255},
	{2, 13, 245, 255},
	{0, 0, 255, 255},
}

// SpeedColor returns the color for speed.
func SpeedColor(speed float64) (color.NRGBA, error) {
	if speed < 0 || math.IsNaN(speed) {
		return color.NRGBA{}, fmt.Errorf("%w: %g", ErrInvalidSpeed, speed)
	}
	i := math.Round(speed)
	if i > float64(len(SpeedColors)-1) {
		i = float64(len(SpeedColors) - 1)
	}
	return SpeedColors[int(i)], nil
}
