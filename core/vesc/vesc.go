// Package vesc talks to a VESC motor controller over a serial port.
package vesc

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
)

// Command ids of the packets.
const (
	CommSetCurrent          byte = 6
	CommAnticoggingStart    byte = 150
	CommAnticoggingSample   byte = 151
	CommAnticoggingReadBack byte = 152
	CommAnticoggingUpload   byte = 153
)

const (
	defaultPortName = "/dev/ttyACM0"
	defaultBaudRate = 115200
	readTimeout     = 100 // ms

	sampleEventSize         = 9
	readBackResponseMinimum = 1
)

// Open the serial port with the given name. If name is empty, /dev/ttyACM0 is used;
// if baudRate is 0, 115200 baud are used.
func Open(name string, baudRate int) (*VESC, error) {
	if name == "" {
		name = defaultPortName
	}
	if baudRate == 0 {
		baudRate = defaultBaudRate
	}
	options := serial.OpenOptions{
		PortName:        name,
		BaudRate:        uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: readTimeout,
		ParityMode:            serial.PARITY_NONE,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open serial port %s", name)
	}
	logrus.WithFields(logrus.Fields{
		"port": name,
		"baud": baudRate,
	}).Info("serial port opened")

	return New(port), nil
}

// New returns a VESC that communicates through the given port. Reads on the port must return
// from time to time, with or without data, so the receiver notices when it is stopped.
func New(port io.ReadWriteCloser) *VESC {
	return &VESC{
		port:      port,
		writeLock: new(sync.Mutex),
	}
}

// VESC type.
type VESC struct {
	port      io.ReadWriteCloser
	writeLock *sync.Mutex

	sampleCallbacks   []core.SampleReceived
	readBackCallbacks []core.ReadBackReceived
	ackCallbacks      []core.AckReceived
}

// Run the receiver of the VESC. The port is closed when stop is closed.
func (v *VESC) Run(stop chan struct{}, wait *sync.WaitGroup) {
	packets := make(chan []byte, 10)

	wait.Add(2)
	go func() {
		defer wait.Done()
		defer close(packets)
		v.receive(packets, stop)
	}()
	go func() {
		defer wait.Done()
		defer v.shutdown()

		for {
			select {
			case packet, ok := <-packets:
				if !ok {
					return
				}
				v.dispatch(packet)
			case <-stop:
				return
			}
		}
	}()
}

func (v *VESC) shutdown() {
	v.port.Close()
	logrus.Info("VESC shutdown")
}

func (v *VESC) receive(packets chan<- []byte, stop chan struct{}) {
	reader := bufio.NewReader(&portReader{port: v.port, stop: stop})
	for {
		packet, err := ReadPacket(reader)
		switch {
		case errors.Cause(err) == ErrCRC || errors.Cause(err) == ErrFrame:
			logrus.WithError(err).Warn("packet dropped")
			continue
		case err != nil:
			select {
			case <-stop:
			default:
				logrus.WithError(err).Error("receiving from VESC failed")
			}
			return
		}

		select {
		case packets <- packet:
		case <-stop:
			return
		}
	}
}

var errStopped = errors.New("receiver stopped")

// portReader repeats reads that timed out without data until the receiver is stopped.
type portReader struct {
	port io.Reader
	stop chan struct{}
}

func (r *portReader) Read(b []byte) (int, error) {
	for {
		n, err := r.port.Read(b)
		if n > 0 {
			return n, nil
		}
		select {
		case <-r.stop:
			return 0, errStopped
		default:
		}
		// a read timeout on a serial port shows up as EOF without data
		if err != nil && err != io.EOF {
			return 0, err
		}
	}
}

func (v *VESC) dispatch(packet []byte) {
	command, body := packet[0], packet[1:]
	switch command {
	case CommAnticoggingSample:
		event, err := decodeSampleEvent(body)
		if err != nil {
			logrus.WithError(err).Warn("invalid sample event")
			return
		}
		for _, sampleReceived := range v.sampleCallbacks {
			sampleReceived(event)
		}
	case CommAnticoggingReadBack:
		if len(body) < readBackResponseMinimum {
			logrus.WithField("length", len(body)).Warn("invalid read-back response")
			return
		}
		valid, data := body[0] != 0, body[1:]
		for _, readBackReceived := range v.readBackCallbacks {
			readBackReceived(valid, data)
		}
	case CommAnticoggingUpload:
		if len(body) != 1 {
			logrus.WithField("length", len(body)).Warn("invalid upload acknowledgment")
			return
		}
		ok := body[0] != 0
		for _, ackReceived := range v.ackCallbacks {
			ackReceived(ok)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"command": command,
			"length":  len(body),
		}).Debug("packet ignored")
	}
}

func decodeSampleEvent(body []byte) (core.SampleEvent, error) {
	if len(body) != sampleEventSize {
		return core.SampleEvent{}, errors.Errorf("wrong size %d != %d expected", len(body), sampleEventSize)
	}
	return core.SampleEvent{
		Finished: body[0] != 0,
		Success:  body[1] != 0,
		Forward:  body[2] != 0,
		Index:    int(int16(binary.BigEndian.Uint16(body[3:5]))),
		IQ:       float64(math.Float32frombits(binary.BigEndian.Uint32(body[5:9]))),
	}, nil
}

// OnSample registers the given callback to be notified about sample events.
func (v *VESC) OnSample(f core.SampleReceived) {
	v.sampleCallbacks = append(v.sampleCallbacks, f)
}

// OnReadBack registers the given callback to be notified about read-back responses.
func (v *VESC) OnReadBack(f core.ReadBackReceived) {
	v.readBackCallbacks = append(v.readBackCallbacks, f)
}

// OnAck registers the given callback to be notified about upload acknowledgments.
func (v *VESC) OnAck(f core.AckReceived) {
	v.ackCallbacks = append(v.ackCallbacks, f)
}

// StartCalibration starts the anticogging measurement with the given parameters.
func (v *VESC) StartCalibration(params core.CalibrationParams) error {
	payload := []byte{CommAnticoggingStart}
	payload = binary.BigEndian.AppendUint16(payload, params.Attempts)
	payload = binary.BigEndian.AppendUint16(payload, params.SamplesPerPoint)
	payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(float32(params.AbsoluteTolerance)))
	payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(float32(params.Tolerance)))
	return v.send(payload)
}

// CancelCalibration stops the motor by setting its current to zero.
func (v *VESC) CancelCalibration() error {
	return v.SetCurrent(0)
}

// SetCurrent sets the motor current in ampere.
func (v *VESC) SetCurrent(current float64) error {
	payload := []byte{CommSetCurrent}
	payload = binary.BigEndian.AppendUint32(payload, uint32(int32(math.Round(current*1000))))
	return v.send(payload)
}

// ReadBackBlock requests one block of the calibration data stored in the device.
func (v *VESC) ReadBackBlock(phase core.BlockPhase, offset, length int) error {
	payload := []byte{CommAnticoggingReadBack, byte(phase)}
	payload = binary.BigEndian.AppendUint32(payload, uint32(offset))
	payload = binary.BigEndian.AppendUint16(payload, uint16(length))
	return v.send(payload)
}

// UploadBlock sends one block of calibration data to the device.
func (v *VESC) UploadBlock(phase core.BlockPhase, offset int, data []byte) error {
	payload := make([]byte, 0, 6+len(data))
	payload = append(payload, CommAnticoggingUpload, byte(phase))
	payload = binary.BigEndian.AppendUint32(payload, uint32(offset))
	payload = append(payload, data...)
	return v.send(payload)
}

func (v *VESC) send(payload []byte) error {
	if len(payload) > MaxPayload {
		return errors.Errorf("payload too large: %d > %d", len(payload), MaxPayload)
	}

	v.writeLock.Lock()
	defer v.writeLock.Unlock()
	_, err := v.port.Write(EncodePacket(payload))
	if err != nil {
		return errors.Wrapf(err, "cannot send command %d", payload[0])
	}
	logrus.WithFields(logrus.Fields{
		"command": payload[0],
		"length":  len(payload),
	}).Trace("packet sent")
	return nil
}
