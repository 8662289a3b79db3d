package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRamp_IsPalindromic(t *testing.T) {
	for _, steps := range []int{1, 2, 7, 100} {
		p, err := NewParameters(2.85, 3.15, steps)
		require.NoError(t, err)

		ramp := Ramp(p)
		require.Len(t, ramp, 2*steps)
		for i := 0; i < steps; i++ {
			assert.Equal(t, ramp[i], ramp[2*steps-1-i], "steps=%d i=%d", steps, i)
		}
		assert.Equal(t, p.Low(), ramp[0])
	}
}

func TestLimits_Clamp(t *testing.T) {
	l := Limits{Lower: 0, Upper: 5, Epsilon: 0.01}
	ramp := []float64{-1, 0, 2.5, 4.99, 5, 7.3}

	n := l.Clamp(ramp)

	assert.Equal(t, 3, n)
	top := l.Upper - l.Epsilon
	assert.Equal(t, []float64{l.Lower + l.Epsilon, 0, 2.5, 4.99, top, top}, ramp)
}

func TestLimits_ClampNeverWritesCommandedValue(t *testing.T) {
	l := Limits{Lower: 0, Upper: 5, Epsilon: 0.01}
	for _, v := range []float64{5.0001, 6, 100} {
		ramp := []float64{v}
		l.Clamp(ramp)
		assert.Equal(t, l.Upper-l.Epsilon, ramp[0])
	}
}
