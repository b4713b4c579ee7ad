package dsp

import (
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/ftl/cogcal/core"
)

// NewTransform returns a transform for real signals of length n.
// The go-dsp factor tables for n are built here, so the first call on the hot path does not pay for them.
func NewTransform(n int) *Transform {
	fft.FFTReal(make([]float64, n))
	return &Transform{n: n}
}

// Transform is the discrete Fourier transform of a real periodic signal with a fixed length.
// It holds no mutable state and is safe for concurrent use.
type Transform struct {
	n int
}

// Len of the signals this transform works on.
func (t *Transform) Len() int {
	return t.n
}

// SpectrumLen is the number of non-redundant bins of the spectrum.
func (t *Transform) SpectrumLen() int {
	return t.n/2 + 1
}

// Forward computes the unnormalized half spectrum of the given real signal.
func (t *Transform) Forward(x []float64) core.Spectrum {
	if len(x) != t.n {
		panic(fmt.Errorf("wrong size %d != %d expected", len(x), t.n))
	}
	full := fft.FFTReal(x)
	result := make(core.Spectrum, t.SpectrumLen())
	copy(result, full)
	return result
}

// Inverse computes the real signal of the given half spectrum, normalized by the signal length.
// The imaginary parts of the DC and Nyquist bins do not contribute to the real signal.
func (t *Transform) Inverse(spectrum core.Spectrum) []float64 {
	if len(spectrum) != t.SpectrumLen() {
		panic(fmt.Errorf("wrong size %d != %d expected", len(spectrum), t.SpectrumLen()))
	}

	full := make([]complex128, t.n)
	copy(full, spectrum)
	for k := 1; k < t.n-t.n/2; k++ {
		full[t.n-k] = cmplx.Conj(spectrum[k])
	}

	signal := fft.IFFT(full) // go-dsp already divides by n
	result := make([]float64, t.n)
	for i, s := range signal {
		result[i] = real(s)
	}
	return result
}

// Magnitude of every bin of the given spectrum.
func Magnitude(spectrum core.Spectrum) []float64 {
	result := make([]float64, len(spectrum))
	for i, v := range spectrum {
		result[i] = cmplx.Abs(v)
	}
	return result
}

// ApplyLowPass zeroes all bins at index >= cutoff in place. A cutoff beyond the spectrum length changes nothing.
// The cutoff must not be negative.
func ApplyLowPass(spectrum core.Spectrum, cutoff int) {
	for i := cutoff; i < len(spectrum); i++ {
		spectrum[i] = 0
	}
}
