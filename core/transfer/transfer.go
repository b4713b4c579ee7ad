// Package transfer moves the calibration payload between host and device in acknowledged chunks.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
)

var (
	ErrTimeout            = errors.New("data transfer timeout")
	ErrNoValidData        = errors.New("no valid calibration data in the connected device")
	ErrUploadFailed       = errors.New("upload failed")
	ErrTransferInProgress = errors.New("another transfer is in progress")

	// ErrUploadTimeout matches both ErrUploadFailed and ErrTimeout.
	ErrUploadTimeout error = uploadTimeoutError{}
)

type uploadTimeoutError struct{}

func (uploadTimeoutError) Error() string {
	return ErrUploadFailed.Error() + ": " + ErrTimeout.Error()
}

func (uploadTimeoutError) Is(target error) bool {
	return target == ErrUploadFailed || target == ErrTimeout
}

// Channel is the part of the device that carries the block requests.
type Channel interface {
	ReadBackBlock(phase core.BlockPhase, offset, length int) error
	UploadBlock(phase core.BlockPhase, offset int, data []byte) error
}

// Operation names the direction of a transfer.
type Operation string

// All operations.
const (
	OperationReadBack Operation = "read-back"
	OperationUpload   Operation = "upload"
)

// Progress of a running transfer.
type Progress struct {
	Operation Operation
	Phase     core.BlockPhase
	Done      int
	Total     int
}

// ProgressFunc is called after every acknowledged phase of a transfer.
type ProgressFunc func(Progress)

// New returns a new protocol on the given channel, using core.TransferTimeout for every request.
func New(channel Channel) *Protocol {
	return &Protocol{
		channel: channel,
		timeout: core.TransferTimeout,
	}
}

// Protocol drives read-back and upload transfers. Only one transfer may run at a time;
// the responses of the device are fed in through ReadBackReceived and AckReceived.
type Protocol struct {
	channel           Channel
	timeout           time.Duration
	progressCallbacks []ProgressFunc

	lock    sync.Mutex
	running bool
	current *pending
	stale   *stale
}

// stale marks a request that was given up on. Its response may still arrive within
// one timeout period and must not be taken for the answer of a later request.
type stale struct {
	kind  responseKind
	until time.Time
}

type responseKind int

const (
	readBackResponse responseKind = iota
	ackResponse
)

func (k responseKind) String() string {
	if k == ackResponse {
		return "ack"
	}
	return "read-back"
}

type response struct {
	ok   bool
	data []byte
}

// pending is the handle of one request waiting for its response. It is resolved exactly once,
// either by the response path or by the timer path, whichever claims it first.
type pending struct {
	kind   responseKind
	result chan response
}

// OnProgress registers the given callback to be notified about the transfer progress.
func (p *Protocol) OnProgress(f ProgressFunc) {
	p.progressCallbacks = append(p.progressCallbacks, f)
}

// ReadBackReceived feeds a read-back response of the device into the protocol.
func (p *Protocol) ReadBackReceived(valid bool, data []byte) {
	p.deliver(readBackResponse, response{ok: valid, data: append([]byte{}, data...)})
}

// AckReceived feeds an upload acknowledgment of the device into the protocol.
func (p *Protocol) AckReceived(ok bool) {
	p.deliver(ackResponse, response{ok: ok})
}

// ReadBack the calibration payload from the device. On any failure the result is empty,
// partially received data is never returned.
func (p *Protocol) ReadBack(ctx context.Context) (core.DecomposedTable, error) {
	if !p.begin() {
		return core.DecomposedTable{}, ErrTransferInProgress
	}
	defer p.end()

	log := logrus.WithField("operation", OperationReadBack)
	log.Debug("starting read-back")

	_, err := p.readBackBlock(ctx, core.BlockStart, 0, 0)
	if err != nil {
		log.WithError(err).Error("read-back start failed")
		return core.DecomposedTable{}, err
	}
	p.notifyProgress(Progress{OperationReadBack, core.BlockStart, 0, core.PayloadSize})

	buffer := make([]byte, 0, core.PayloadSize)
	for len(buffer) < core.PayloadSize {
		offset := len(buffer)
		length := core.PayloadSize - offset
		if length > core.ChunkSize {
			length = core.ChunkSize
		}

		data, err := p.readBackBlock(ctx, core.BlockOngoing, offset, length)
		if err != nil {
			log.WithError(err).WithField("offset", offset).Error("read-back failed")
			return core.DecomposedTable{}, err
		}
		if len(data) == 0 || len(data) > length {
			log.WithFields(logrus.Fields{
				"offset":   offset,
				"expected": length,
				"received": len(data),
			}).Error("read-back chunk has the wrong size")
			return core.DecomposedTable{}, ErrNoValidData
		}

		buffer = append(buffer, data...)
		p.notifyProgress(Progress{OperationReadBack, core.BlockOngoing, len(buffer), core.PayloadSize})
	}

	log.Info("read-back complete")
	return DecodePayload(buffer), nil
}

// Upload the given payload to the device.
func (p *Protocol) Upload(ctx context.Context, payload core.DecomposedTable) error {
	if !p.begin() {
		return ErrTransferInProgress
	}
	defer p.end()

	log := logrus.WithField("operation", OperationUpload)
	buffer := EncodePayload(payload)

	log.Debug("starting upload")
	err := p.uploadBlock(ctx, core.BlockStart, 0, nil)
	if err != nil {
		log.WithError(err).Error("upload start failed")
		return err
	}
	p.notifyProgress(Progress{OperationUpload, core.BlockStart, 0, len(buffer)})

	for _, chunk := range Chunks(buffer, core.ChunkSize) {
		err := p.uploadBlock(ctx, core.BlockOngoing, chunk.Offset, chunk.Data)
		if err != nil {
			log.WithError(err).WithField("offset", chunk.Offset).Error("upload failed")
			return err
		}
		p.notifyProgress(Progress{OperationUpload, core.BlockOngoing, chunk.Offset + len(chunk.Data), len(buffer)})
	}

	err = p.uploadBlock(ctx, core.BlockEnd, 0, nil)
	if err != nil {
		log.WithError(err).Error("upload end failed")
		return err
	}
	p.notifyProgress(Progress{OperationUpload, core.BlockEnd, len(buffer), len(buffer)})

	log.Info("upload complete")
	return nil
}

func (p *Protocol) readBackBlock(ctx context.Context, phase core.BlockPhase, offset, length int) ([]byte, error) {
	result, err := p.request(ctx, readBackResponse, func() error {
		return p.channel.ReadBackBlock(phase, offset, length)
	})
	if err != nil {
		return nil, err
	}
	if !result.ok {
		return nil, ErrNoValidData
	}
	return result.data, nil
}

func (p *Protocol) uploadBlock(ctx context.Context, phase core.BlockPhase, offset int, data []byte) error {
	result, err := p.request(ctx, ackResponse, func() error {
		return p.channel.UploadBlock(phase, offset, data)
	})
	switch {
	case errors.Cause(err) == ErrTimeout:
		return ErrUploadTimeout
	case err != nil:
		return err
	case !result.ok:
		return ErrUploadFailed
	default:
		return nil
	}
}

// request arms a pending handle, sends the request and waits for the response.
// The handle is armed before sending, a device may answer before send returns.
func (p *Protocol) request(ctx context.Context, kind responseKind, send func() error) (response, error) {
	pending := p.arm(kind)
	if err := send(); err != nil {
		p.disarm(pending)
		return response{}, errors.Wrap(err, "cannot send request")
	}
	return p.await(ctx, pending)
}

func (p *Protocol) await(ctx context.Context, pending *pending) (response, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	var err error
	select {
	case result := <-pending.result:
		return result, nil
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	if p.abandon(pending) {
		return response{}, err
	}
	// the response path claimed the handle first, its result is on the way
	return <-pending.result, nil
}

func (p *Protocol) arm(kind responseKind) *pending {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.current = &pending{
		kind:   kind,
		result: make(chan response, 1),
	}
	return p.current
}

// disarm releases the given handle if it is still the current one.
func (p *Protocol) disarm(pending *pending) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.current != pending {
		return false
	}
	p.current = nil
	return true
}

// abandon releases the given handle like disarm, and remembers that its response may still come in.
func (p *Protocol) abandon(pending *pending) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.current != pending {
		return false
	}
	p.current = nil
	p.stale = &stale{kind: pending.kind, until: time.Now().Add(p.timeout)}
	return true
}

func (p *Protocol) deliver(kind responseKind, r response) {
	p.lock.Lock()
	if p.stale != nil && p.stale.kind == kind {
		late := time.Now().Before(p.stale.until)
		p.stale = nil
		if late {
			p.lock.Unlock()
			logrus.WithFields(logrus.Fields{
				"response": kind,
				"ok":       r.ok,
				"length":   len(r.data),
			}).Warn("late response of an abandoned request dropped")
			return
		}
	}
	pending := p.current
	if pending == nil || pending.kind != kind {
		p.lock.Unlock()
		logrus.WithFields(logrus.Fields{
			"response": kind,
			"ok":       r.ok,
			"length":   len(r.data),
		}).Warn("unexpected response dropped")
		return
	}
	p.current = nil
	p.lock.Unlock()

	pending.result <- r
}

func (p *Protocol) begin() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Protocol) end() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.running = false
	p.current = nil
}

func (p *Protocol) notifyProgress(progress Progress) {
	for _, progressChanged := range p.progressCallbacks {
		progressChanged(progress)
	}
}
