package visualizer

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	FFTSize   = 256
	Bins      = FFTSize / 2
	minDB     = -100.0
	maxDB     = -30.0
	smoothing = 0.8
)

// Spectrum turns time-domain samples into Bins levels in 0..1, smoothed
// over time and mapped linearly from minDB..maxDB.
type Spectrum struct {
	fft    *fourier.FFT
	coeffs []complex128
	smooth []float64
}

func NewSpectrum() *Spectrum {
	return &Spectrum{
		fft:    fourier.NewFFT(FFTSize),
		smooth: make([]float64, Bins),
	}
}

func (s *Spectrum) Compute(samples []float64) []float64 {
	seq := make([]float64, FFTSize)
	copy(seq[FFTSize-min(len(samples), FFTSize):], samples[max(0, len(samples)-FFTSize):])
	window.Hann(seq)
	s.coeffs = s.fft.Coefficients(s.coeffs, seq)

	levels := make([]float64, Bins)
	for i := range levels {
		mag := cmplx.Abs(s.coeffs[i]) / FFTSize
		s.smooth[i] = smoothing*s.smooth[i] + (1-smoothing)*mag
		levels[i] = normalize(s.smooth[i])
	}
	return levels
}

func normalize(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDB) / (maxDB - minDB)
	return math.Max(0, math.Min(1, v))
}
