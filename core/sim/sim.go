// Package sim provides a simulated motor controller for the testmode.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
)

// Model of the simulated cogging torque, in ampere of q current.
const (
	Friction   = 0.05
	NoiseLevel = 0.01
)

// Cogging returns the compensation current the simulated motor needs at the given angle index.
func Cogging(i int) float64 {
	θ := 2 * math.Pi * float64(i) / float64(core.N)
	return 0.3*math.Sin(6*θ) + 0.1*math.Sin(12*θ+0.4) + 0.02*math.Sin(36*θ)
}

// New returns a simulated device that produces one sample event per interval.
func New(interval time.Duration, seed int64) *Device {
	return &Device{
		interval: interval,
		random:   rand.New(rand.NewSource(seed)),
	}
}

// Device simulates the anticogging part of a motor controller.
type Device struct {
	interval time.Duration

	lock      sync.Mutex
	random    *rand.Rand
	done      chan struct{}
	stored    []byte
	uploading []byte

	sampleCallbacks   []core.SampleReceived
	readBackCallbacks []core.ReadBackReceived
	ackCallbacks      []core.AckReceived
}

// OnSample registers the given callback to be notified about sample events.
func (d *Device) OnSample(f core.SampleReceived) {
	d.sampleCallbacks = append(d.sampleCallbacks, f)
}

// OnReadBack registers the given callback to be notified about read-back responses.
func (d *Device) OnReadBack(f core.ReadBackReceived) {
	d.readBackCallbacks = append(d.readBackCallbacks, f)
}

// OnAck registers the given callback to be notified about upload acknowledgments.
func (d *Device) OnAck(f core.AckReceived) {
	d.ackCallbacks = append(d.ackCallbacks, f)
}

// StartCalibration starts a simulated sweep, first forward then reverse.
func (d *Device) StartCalibration(params core.CalibrationParams) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.done != nil {
		return errors.New("simulated calibration already running")
	}
	d.done = make(chan struct{})

	samplesPerPoint := int(params.SamplesPerPoint)
	if samplesPerPoint < 1 {
		samplesPerPoint = 1
	}
	go d.sweep(d.done, samplesPerPoint)
	return nil
}

// CancelCalibration stops the running sweep.
func (d *Device) CancelCalibration() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.stop()
	return nil
}

func (d *Device) stop() {
	if d.done == nil {
		return
	}
	close(d.done)
	d.done = nil
}

func (d *Device) sweep(done chan struct{}, samplesPerPoint int) {
	defer logrus.Debug("simulated sweep done")
	for _, forward := range []bool{true, false} {
		for i := 0; i <= core.N; i++ {
			if d.interval > 0 {
				time.Sleep(d.interval)
			}
			select {
			case <-done:
				return
			default:
			}

			event := core.SampleEvent{
				Success: true,
				Forward: forward,
				Index:   i,
			}
			if i < core.N {
				event.IQ = d.measure(i, forward, samplesPerPoint)
			} else if !forward {
				event.Finished = true
				d.lock.Lock()
				if d.done == done {
					d.done = nil
				}
				d.lock.Unlock()
			}
			for _, sampleReceived := range d.sampleCallbacks {
				sampleReceived(event)
			}
		}
	}
}

func (d *Device) measure(i int, forward bool, samplesPerPoint int) float64 {
	d.lock.Lock()
	defer d.lock.Unlock()

	value := Cogging(i)
	if forward {
		value += Friction
	} else {
		value -= Friction
	}
	var noise float64
	for j := 0; j < samplesPerPoint; j++ {
		noise += d.random.NormFloat64() * NoiseLevel
	}
	return value + noise/float64(samplesPerPoint)
}

// ReadBackBlock answers with a block of the last uploaded calibration data.
func (d *Device) ReadBackBlock(phase core.BlockPhase, offset, length int) error {
	d.lock.Lock()
	var valid bool
	var data []byte
	switch phase {
	case core.BlockStart:
		valid = d.stored != nil
	case core.BlockOngoing:
		valid = d.stored != nil && offset >= 0 && length > 0 && offset+length <= len(d.stored)
		if valid {
			data = append([]byte{}, d.stored[offset:offset+length]...)
		}
	}
	d.lock.Unlock()

	go func() {
		for _, readBackReceived := range d.readBackCallbacks {
			readBackReceived(valid, data)
		}
	}()
	return nil
}

// UploadBlock stores a block of calibration data. The data becomes readable after the end block.
func (d *Device) UploadBlock(phase core.BlockPhase, offset int, data []byte) error {
	d.lock.Lock()
	var ok bool
	switch phase {
	case core.BlockStart:
		d.uploading = make([]byte, 0, core.PayloadSize)
		ok = true
	case core.BlockOngoing:
		ok = d.uploading != nil && offset == len(d.uploading) && offset+len(data) <= core.PayloadSize
		if ok {
			d.uploading = append(d.uploading, data...)
		}
	case core.BlockEnd:
		ok = len(d.uploading) == core.PayloadSize
		if ok {
			d.stored = d.uploading
		}
		d.uploading = nil
	}
	d.lock.Unlock()

	go func() {
		for _, ackReceived := range d.ackCallbacks {
			ackReceived(ok)
		}
	}()
	return nil
}

// Close stops a running sweep.
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.stop()
	return nil
}
