// Package acquisition builds the raw calibration table from the sample events of the device.
//
// A Machine is not safe for concurrent use. It is meant to be driven from a single
// owner context that receives the device events one at a time.
package acquisition

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
)

// State of the acquisition.
type State string

// All states.
const (
	StateIdle      State = "Idle"
	StateAcquiring State = "Acquiring"
	StateFinished  State = "Finished"
	StateCancelled State = "Cancelled"
)

// TotalSamples is the number of samples of a complete acquisition, one per direction and angle.
const TotalSamples = 2 * core.N

var (
	ErrAcquisitionInProgress = errors.New("calibration acquisition already in progress")
	ErrAcquisitionNotRunning = errors.New("calibration acquisition not running")
)

// Controller is the part of the device that starts and stops the acquisition.
type Controller interface {
	StartCalibration(core.CalibrationParams) error
	CancelCalibration() error
}

// Session of one acquisition.
type Session struct {
	ID              string
	Params          core.CalibrationParams
	StartedAt       time.Time
	SamplesReceived int
}

// Elapsed time since the session started.
func (s Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// Remaining estimates the time until all samples are received, based on the sample rate so far.
func (s Session) Remaining() time.Duration {
	if s.SamplesReceived == 0 || s.SamplesReceived >= TotalSamples {
		return 0
	}
	perSample := s.Elapsed() / time.Duration(s.SamplesReceived)
	return perSample * time.Duration(TotalSamples-s.SamplesReceived)
}

// TableUpdated is called after every handled sample event with a copy of the table.
type TableUpdated func(core.CalibrationTable, Session)

// StateChanged is called when the acquisition changes its state.
type StateChanged func(from, to State, session Session)

// New returns a new idle acquisition machine.
func New(controller Controller) *Machine {
	return &Machine{
		controller: controller,
		state:      StateIdle,
	}
}

// Machine is the sample acquisition state machine.
type Machine struct {
	controller Controller
	state      State
	session    Session
	table      core.CalibrationTable

	tableUpdatedCallbacks []TableUpdated
	stateChangedCallbacks []StateChanged
}

// OnTableUpdate registers the given callback to be notified when the table changed.
func (m *Machine) OnTableUpdate(f TableUpdated) {
	m.tableUpdatedCallbacks = append(m.tableUpdatedCallbacks, f)
}

// OnStateChange registers the given callback to be notified on state transitions.
func (m *Machine) OnStateChange(f StateChanged) {
	m.stateChangedCallbacks = append(m.stateChangedCallbacks, f)
}

// State of the acquisition.
func (m *Machine) State() State {
	return m.state
}

// Session returns the current or last session.
func (m *Machine) Session() Session {
	return m.session
}

// Table returns a copy of the current table.
func (m *Machine) Table() core.CalibrationTable {
	return m.table
}

// SetTable replaces the table, e.g. with the result of a read-back or an import.
// It is rejected while an acquisition is running.
func (m *Machine) SetTable(t core.CalibrationTable) error {
	if m.state == StateAcquiring {
		return ErrAcquisitionInProgress
	}
	m.table = t
	m.notifyTableUpdate()
	return nil
}

// Start a new acquisition with the given parameters.
func (m *Machine) Start(params core.CalibrationParams) error {
	if m.state == StateAcquiring {
		return ErrAcquisitionInProgress
	}

	session := Session{
		ID:        uuid.New().String(),
		Params:    params,
		StartedAt: time.Now(),
	}
	log := logrus.WithFields(logrus.Fields{
		"session":         session.ID,
		"attempts":        params.Attempts,
		"samplesPerPoint": params.SamplesPerPoint,
		"absTolerance":    params.AbsoluteTolerance,
		"tolerance":       params.Tolerance,
	})

	if err := m.controller.StartCalibration(params); err != nil {
		log.WithError(err).Error("failed to start calibration")
		return errors.Wrap(err, "cannot start calibration")
	}
	log.Info("calibration started")

	m.session = session
	m.table = core.CalibrationTable{}
	m.setState(StateAcquiring)
	m.notifyTableUpdate()
	return nil
}

// Cancel the running acquisition. Samples that were already written are kept.
func (m *Machine) Cancel() error {
	if m.state != StateAcquiring {
		return ErrAcquisitionNotRunning
	}

	err := m.controller.CancelCalibration()
	if err != nil {
		logrus.WithError(err).WithField("session", m.session.ID).Error("failed to stop the motor")
	}

	logrus.WithFields(logrus.Fields{
		"session": m.session.ID,
		"samples": m.session.SamplesReceived,
	}).Info("calibration cancelled")
	m.session.SamplesReceived = 0
	m.setState(StateCancelled)
	return errors.Wrap(err, "cannot stop calibration")
}

// HandleSample processes one sample event of the device.
func (m *Machine) HandleSample(event core.SampleEvent) {
	if m.state != StateAcquiring {
		logrus.WithFields(logrus.Fields{
			"state": m.state,
			"index": event.Index,
		}).Debug("sample ignored, no acquisition running")
		return
	}

	switch {
	case !event.Success || event.Index < 0 || event.Index > core.N:
		logrus.WithFields(logrus.Fields{
			"session": m.session.ID,
			"success": event.Success,
			"index":   event.Index,
		}).Warn("bad anticogging data received")
	case event.Index == core.N:
		// end marker of a sweep, carries no data
	default:
		if event.Forward {
			m.table.Forward[event.Index] = event.IQ
		} else {
			m.table.Reverse[event.Index] = event.IQ
		}
		m.session.SamplesReceived++
	}
	m.notifyTableUpdate()

	if event.Finished {
		logrus.WithFields(logrus.Fields{
			"session":  m.session.ID,
			"samples":  m.session.SamplesReceived,
			"duration": m.session.Elapsed().Round(time.Millisecond),
		}).Info("calibration finished")
		m.setState(StateFinished)
	}
}

func (m *Machine) setState(state State) {
	from := m.state
	m.state = state
	if from == state {
		return
	}
	for _, stateChanged := range m.stateChangedCallbacks {
		stateChanged(from, state, m.session)
	}
}

func (m *Machine) notifyTableUpdate() {
	for _, tableUpdated := range m.tableUpdatedCallbacks {
		tableUpdated(m.table, m.session)
	}
}
