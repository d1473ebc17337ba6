package dreame

import (
	"math/rand"
)

func nextInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.Intn(max-min) + min
}
