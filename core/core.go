package core

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
)

// N is the number of angular positions in one calibration revolution.
const N = 3600

// PayloadSize is the size of the binary calibration payload in bytes: two N-length arrays of 4-byte floats.
const PayloadSize = 2 * N * 4

// ChunkSize is the maximum number of payload bytes in one ongoing transfer request.
// The channel carries at most 512 bytes per packet.
const ChunkSize = 500

// TransferTimeout is the time to wait for the response to a single transfer request.
const TransferTimeout = 3000 * time.Millisecond

// Angle of the given position index in degrees.
func Angle(index int) float64 {
	return float64(index) / 10.0
}

// AngleAxis returns the angle in degrees for every position index.
func AngleAxis() []float64 {
	result := make([]float64, N)
	for i := range result {
		result[i] = Angle(i)
	}
	return result
}

// FrequencyAxis returns the frequency index of every bin of a Spectrum.
func FrequencyAxis() []float64 {
	result := make([]float64, SpectrumSize)
	for i := range result {
		result[i] = float64(i)
	}
	return result
}

// SpectrumSize is the number of non-redundant bins of the transform of a real N-sample signal.
const SpectrumSize = N/2 + 1

// Spectrum of a real signal, index 0 is the DC term, index N/2 the Nyquist term.
type Spectrum []complex128

// CalibrationTable holds the sampled q-current per angle for both directions.
type CalibrationTable struct {
	Forward [N]float64
	Reverse [N]float64
}

// DecomposedTable holds the common and differential mode of a CalibrationTable.
type DecomposedTable struct {
	Common       [N]float64
	Differential [N]float64
}

// Decompose the given table into common and differential mode.
func Decompose(t CalibrationTable) DecomposedTable {
	var result DecomposedTable
	floats.AddTo(result.Common[:], t.Forward[:], t.Reverse[:])
	floats.Scale(0.5, result.Common[:])
	floats.SubTo(result.Differential[:], t.Forward[:], t.Reverse[:])
	floats.Scale(0.5, result.Differential[:])
	return result
}

// Compose the forward and reverse table from common and differential mode.
func (d DecomposedTable) Compose() CalibrationTable {
	var result CalibrationTable
	floats.AddTo(result.Forward[:], d.Common[:], d.Differential[:])
	floats.SubTo(result.Reverse[:], d.Common[:], d.Differential[:])
	return result
}

// BlockPhase is the framing state of a chunked transfer.
type BlockPhase byte

// All block phases, the values are used on the wire.
const (
	BlockStart BlockPhase = iota
	BlockOngoing
	BlockEnd
)

func (p BlockPhase) String() string {
	switch p {
	case BlockStart:
		return "start"
	case BlockOngoing:
		return "ongoing"
	case BlockEnd:
		return "end"
	default:
		return fmt.Sprintf("phase(%d)", byte(p))
	}
}

// SampleEvent is reported by the device for every calibration sample.
type SampleEvent struct {
	Finished bool
	Success  bool
	Forward  bool
	Index    int
	IQ       float64
}

// CalibrationParams are sent to the device when the acquisition starts.
type CalibrationParams struct {
	Attempts          uint16
	SamplesPerPoint   uint16
	AbsoluteTolerance float64
	Tolerance         float64
}

// Filter selects the low-pass cutoff per mode. Cutoffs are frequency indices and must not be negative.
type Filter struct {
	Enabled            bool
	CommonCutoff       int
	DifferentialCutoff int
}

// Valid checks the cutoff preconditions.
func (f Filter) Valid() error {
	if f.CommonCutoff < 0 || f.DifferentialCutoff < 0 {
		return fmt.Errorf("cutoff must not be negative: common %d, differential %d", f.CommonCutoff, f.DifferentialCutoff)
	}
	return nil
}

// ViewKind selects which representation of the table is shown.
type ViewKind int

// All view kinds.
const (
	ViewRaw ViewKind = iota
	ViewDecomposed
	ViewSpectrum
)

// ParseViewKind parses the name of a view kind.
func ParseViewKind(s string) (ViewKind, error) {
	switch s {
	case "raw", "":
		return ViewRaw, nil
	case "decomposed":
		return ViewDecomposed, nil
	case "spectrum":
		return ViewSpectrum, nil
	default:
		return ViewRaw, fmt.Errorf("unknown view %q", s)
	}
}

func (k ViewKind) String() string {
	switch k {
	case ViewRaw:
		return "raw"
	case ViewDecomposed:
		return "decomposed"
	case ViewSpectrum:
		return "spectrum"
	default:
		return fmt.Sprintf("view(%d)", int(k))
	}
}

// View is a pair of curves over a common axis, ready to be rendered.
type View struct {
	Kind   ViewKind
	XLabel string
	YLabel string
	X      []float64
	Names  [2]string
	Curves [2][]float64
}

// Configuration parameters of the application.
type Configuration struct {
	Testmode   bool
	Port       string
	BaudRate   int
	Params     CalibrationParams
	Filter     Filter
	MQTTBroker string
	MQTTTopic  string
}

// DefaultConfiguration returns the configuration that is used when nothing else is configured.
func DefaultConfiguration() Configuration {
	return Configuration{
		Port:     "/dev/ttyACM0",
		BaudRate: 115200,
		Params: CalibrationParams{
			Attempts:          10,
			SamplesPerPoint:   20,
			AbsoluteTolerance: 0.05,
			Tolerance:         0.01,
		},
		Filter: Filter{
			CommonCutoff:       100,
			DifferentialCutoff: 100,
		},
		MQTTTopic: "cogcal/progress",
	}
}

// Device is the command channel to the motor controller.
// Requests are at-most-once, responses arrive through the registered callbacks.
type Device interface {
	StartCalibration(CalibrationParams) error
	CancelCalibration() error
	ReadBackBlock(phase BlockPhase, offset, length int) error
	UploadBlock(phase BlockPhase, offset int, data []byte) error

	OnSample(SampleReceived)
	OnReadBack(ReadBackReceived)
	OnAck(AckReceived)
}

// SampleReceived is called for every sample event of the device.
type SampleReceived func(SampleEvent)

// ReadBackReceived is called when the device answers a read-back request.
type ReadBackReceived func(valid bool, data []byte)

// AckReceived is called when the device acknowledges an upload request.
type AckReceived func(ok bool)
