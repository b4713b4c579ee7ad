package dsp

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ftl/cogcal/core"
)

func TestRoundtrip(t *testing.T) {
	for _, n := range []int{1, 2, 5, 16, 17, core.N} {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			transform := NewTransform(n)
			x := randomSignal(n, int64(n))

			spectrum := transform.Forward(x)
			require.Equal(t, n/2+1, len(spectrum))

			actual := transform.Inverse(spectrum)
			require.Equal(t, n, len(actual))
			for i := range x {
				assert.InDelta(t, x[i], actual[i], 1e-9, "index %d", i)
			}
		})
	}
}

func TestForwardMatchesGonum(t *testing.T) {
	transform := NewTransform(core.N)
	x := randomSignal(core.N, 7)

	expected := fourier.NewFFT(core.N).Coefficients(nil, x)
	actual := transform.Forward(x)

	require.Equal(t, len(expected), len(actual))
	for i := range expected {
		assert.InDelta(t, real(expected[i]), real(actual[i]), 1e-7, "re %d", i)
		assert.InDelta(t, imag(expected[i]), imag(actual[i]), 1e-7, "im %d", i)
	}
}

func TestForwardIsUnnormalized(t *testing.T) {
	transform := NewTransform(core.N)
	x := make([]float64, core.N)
	for i := range x {
		x[i] = 1
	}

	spectrum := transform.Forward(x)

	assert.InDelta(t, float64(core.N), real(spectrum[0]), 1e-6)
	for i := 1; i < len(spectrum); i++ {
		assert.InDelta(t, 0, Magnitude(spectrum[i : i+1])[0], 1e-6, "bin %d", i)
	}
}

func TestInverseIgnoresImaginaryDCAndNyquist(t *testing.T) {
	transform := NewTransform(16)
	spectrum := make(core.Spectrum, 9)
	spectrum[0] = complex(16, 5)
	spectrum[8] = complex(0, 3)

	actual := transform.Inverse(spectrum)

	for i := range actual {
		assert.InDelta(t, 1.0, actual[i], 1e-12)
	}
}

func TestToneBin(t *testing.T) {
	transform := NewTransform(core.N)
	for _, bin := range []int{1, 3, 17, 900, 1799} {
		t.Run(fmt.Sprintf("%d", bin), func(t *testing.T) {
			magnitudes := Magnitude(transform.Forward(tone(core.N, bin)))

			peak := 0
			for i, m := range magnitudes {
				if m > magnitudes[peak] {
					peak = i
				}
			}
			assert.Equal(t, bin, peak)
			assert.InDelta(t, float64(core.N)/2, magnitudes[peak], 1e-6)
		})
	}
}

func TestApplyLowPass(t *testing.T) {
	tt := []struct {
		name     string
		cutoff   int
		expected core.Spectrum
	}{
		{"zero", 0, core.Spectrum{0, 0, 0, 0}},
		{"one", 1, core.Spectrum{1, 0, 0, 0}},
		{"middle", 2, core.Spectrum{1, 2i, 0, 0}},
		{"length", 4, core.Spectrum{1, 2i, 3, 4 + 1i}},
		{"beyond length", 100, core.Spectrum{1, 2i, 3, 4 + 1i}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			spectrum := core.Spectrum{1, 2i, 3, 4 + 1i}
			ApplyLowPass(spectrum, tc.cutoff)
			assert.Equal(t, tc.expected, spectrum)
		})
	}
}

func TestLowPassZeroCutoffYieldsZeroSignal(t *testing.T) {
	transform := NewTransform(core.N)
	spectrum := transform.Forward(randomSignal(core.N, 3))

	ApplyLowPass(spectrum, 0)
	actual := transform.Inverse(spectrum)

	for i := range actual {
		assert.Equal(t, 0.0, actual[i], "index %d", i)
	}
}

func TestLowPassFullLengthIsNoop(t *testing.T) {
	transform := NewTransform(core.N)
	x := randomSignal(core.N, 4)
	spectrum := transform.Forward(x)
	unfiltered := append(core.Spectrum{}, spectrum...)

	ApplyLowPass(spectrum, len(spectrum))

	assert.Equal(t, unfiltered, spectrum)
}

func TestMagnitude(t *testing.T) {
	actual := Magnitude(core.Spectrum{0, 3 + 4i, -2, 1i})
	assert.Equal(t, []float64{0, 5, 2, 1}, actual)
}

func BenchmarkForward(b *testing.B) {
	transform := NewTransform(core.N)
	x := randomSignal(core.N, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		transform.Forward(x)
	}
}

func BenchmarkInverse(b *testing.B) {
	transform := NewTransform(core.N)
	spectrum := transform.Forward(randomSignal(core.N, 1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		transform.Inverse(spectrum)
	}
}

func randomSignal(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	result := make([]float64, n)
	for i := range result {
		result[i] = r.Float64()*2 - 1
	}
	return result
}

// tone returns a cosine with exactly bin periods over n samples.
func tone(n int, bin int) []float64 {
	result := make([]float64, n)

	ω := 2 * math.Pi * float64(bin) / float64(n)
	for i := range result {
		result[i] = math.Cos(ω * float64(i))
	}

	return result
}
