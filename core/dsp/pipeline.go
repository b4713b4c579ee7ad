package dsp

import (
	"github.com/ftl/cogcal/core"
)

// NewPipeline returns a pipeline for calibration tables.
func NewPipeline() *Pipeline {
	return &Pipeline{
		transform: NewTransform(core.N),
	}
}

// Pipeline decomposes, transforms and filters calibration tables.
type Pipeline struct {
	transform *Transform
}

// Filtered is the result of low-pass filtering a calibration table.
type Filtered struct {
	CommonSpectrum       []float64 // magnitude after filtering
	DifferentialSpectrum []float64 // magnitude after filtering
	Decomposed           core.DecomposedTable
	Table                core.CalibrationTable
}

// Spectra of the common and differential mode of the given table.
func (p *Pipeline) Spectra(t core.CalibrationTable) (common, differential core.Spectrum) {
	decomposed := core.Decompose(t)
	return p.transform.Forward(decomposed.Common[:]), p.transform.Forward(decomposed.Differential[:])
}

// LowPass returns the filtered spectrum and the smoothed signal of the given signal.
func (p *Pipeline) LowPass(signal [core.N]float64, cutoff int) (core.Spectrum, [core.N]float64) {
	spectrum := p.transform.Forward(signal[:])
	ApplyLowPass(spectrum, cutoff)

	var result [core.N]float64
	copy(result[:], p.transform.Inverse(spectrum))
	return spectrum, result
}

// Filtered applies separate low-pass filters to the common and differential mode of the given table.
func (p *Pipeline) Filtered(t core.CalibrationTable, commonCutoff, differentialCutoff int) Filtered {
	decomposed := core.Decompose(t)

	var result Filtered
	commonSpectrum, common := p.LowPass(decomposed.Common, commonCutoff)
	differentialSpectrum, differential := p.LowPass(decomposed.Differential, differentialCutoff)

	result.CommonSpectrum = Magnitude(commonSpectrum)
	result.DifferentialSpectrum = Magnitude(differentialSpectrum)
	result.Decomposed = core.DecomposedTable{Common: common, Differential: differential}
	result.Table = result.Decomposed.Compose()
	return result
}

// Payload returns the decomposed table that is uploaded to the device, filtered if the filter is enabled.
func (p *Pipeline) Payload(t core.CalibrationTable, filter core.Filter) core.DecomposedTable {
	if !filter.Enabled {
		return core.Decompose(t)
	}
	return p.Filtered(t, filter.CommonCutoff, filter.DifferentialCutoff).Decomposed
}

// View of the given table.
func (p *Pipeline) View(t core.CalibrationTable, filter core.Filter, kind core.ViewKind) core.View {
	var filtered Filtered
	if filter.Enabled {
		filtered = p.Filtered(t, filter.CommonCutoff, filter.DifferentialCutoff)
	}

	switch kind {
	case core.ViewDecomposed:
		decomposed := core.Decompose(t)
		if filter.Enabled {
			decomposed = filtered.Decomposed
		}
		return core.View{
			Kind:   kind,
			XLabel: "Degrees",
			YLabel: "Q Current",
			X:      core.AngleAxis(),
			Names:  [2]string{"Common Mode", "Differential Mode"},
			Curves: [2][]float64{decomposed.Common[:], decomposed.Differential[:]},
		}
	case core.ViewSpectrum:
		var common, differential []float64
		if filter.Enabled {
			common, differential = filtered.CommonSpectrum, filtered.DifferentialSpectrum
		} else {
			commonSpectrum, differentialSpectrum := p.Spectra(t)
			common, differential = Magnitude(commonSpectrum), Magnitude(differentialSpectrum)
		}
		return core.View{
			Kind:   kind,
			XLabel: "Freq",
			YLabel: "Amplitude",
			X:      core.FrequencyAxis(),
			Names:  [2]string{"Common Mode", "Differential Mode"},
			Curves: [2][]float64{common, differential},
		}
	default:
		table := t
		if filter.Enabled {
			table = filtered.Table
		}
		return core.View{
			Kind:   core.ViewRaw,
			XLabel: "Degrees",
			YLabel: "Q Current",
			X:      core.AngleAxis(),
			Names:  [2]string{"Forward", "Reverse"},
			Curves: [2][]float64{table.Forward[:], table.Reverse[:]},
		}
	}
}
