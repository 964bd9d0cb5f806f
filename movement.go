/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import "math"

const (
	// stepSize is the distance of one discrete directional step, as sent
	// by the d-pad controller.
	stepSize = 10

	// vectorSpeed scales joystick vectors. Constant on purpose: the
	// controller's speed field is a gate, not a throttle.
	vectorSpeed = 5
)

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// stepPosition resolves a cardinal step. Diagonals never reach the server;
// the controller decomposes held diagonal keys into cardinal events, so
// anything else reports false.
func stepPosition(x, y float64, direction string, width, height float64) (float64, float64, bool) {
	switch direction {
	case "up":
		y = clamp(y-stepSize, 0, height)
	case "down":
		y = clamp(y+stepSize, 0, height)
	case "left":
		x = clamp(x-stepSize, 0, width)
	case "right":
		x = clamp(x+stepSize, 0, width)
	default:
		return x, y, false
	}
	return x, y, true
}

// vectorPosition advances a position along a unit-ish joystick direction
// at constant speed, saturating at the map bounds.
func vectorPosition(x, y, dx, dy, width, height float64) (float64, float64) {
	return clamp(x+dx*vectorSpeed, 0, width), clamp(y+dy*vectorSpeed, 0, height)
}
