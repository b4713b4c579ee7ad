package app

import (
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
	"github.com/ftl/cogcal/core/acquisition"
)

func newMainLoop(acquisition acquisitionType, pipeline pipelineType, filter core.Filter) *mainLoop {
	result := &mainLoop{
		acquisition: acquisition,
		pipeline:    pipeline,
		filter:      filter,

		command: make(chan command),
		samples: make(chan core.SampleEvent, 100),
		stopped: make(chan struct{}),
	}

	return result
}

type command func()

// mainLoop owns the calibration table. Sample events, table replacements and all queries
// are processed one at a time on the goroutine that runs the loop.
type mainLoop struct {
	acquisition acquisitionType
	pipeline    pipelineType
	filter      core.Filter

	command chan command
	samples chan core.SampleEvent
	stopped chan struct{}
}

type acquisitionType interface {
	Start(core.CalibrationParams) error
	Cancel() error
	HandleSample(core.SampleEvent)
	State() acquisition.State
	Session() acquisition.Session
	Table() core.CalibrationTable
	SetTable(core.CalibrationTable) error
	OnTableUpdate(acquisition.TableUpdated)
	OnStateChange(acquisition.StateChanged)
}

type pipelineType interface {
	Payload(core.CalibrationTable, core.Filter) core.DecomposedTable
	View(core.CalibrationTable, core.Filter, core.ViewKind) core.View
}

func (m *mainLoop) Run(stop chan struct{}) {
	defer logrus.Debug("main loop shutdown")
	defer close(m.stopped)
	for {
		select {
		case event := <-m.samples:
			m.acquisition.HandleSample(event)
		case command := <-m.command:
			command()
		case <-stop:
			return
		}
	}
}

// q hands the given command over to the loop and reports if it was accepted. Commands are rejected once the loop stopped.
func (m *mainLoop) q(cmd command) bool {
	select {
	case m.command <- cmd:
		return true
	case <-m.stopped:
		logrus.Warn("main loop stopped, command dropped")
		return false
	}
}

// HandleSample queues a sample event of the device.
func (m *mainLoop) HandleSample(event core.SampleEvent) {
	select {
	case m.samples <- event:
	case <-m.stopped:
	}
}

// Start the acquisition.
func (m *mainLoop) Start(params core.CalibrationParams) error {
	result := make(chan error, 1)
	if !m.q(func() {
		result <- m.acquisition.Start(params)
	}) {
		return ErrStopped
	}
	return <-result
}

// Cancel the acquisition.
func (m *mainLoop) Cancel() error {
	result := make(chan error, 1)
	if !m.q(func() {
		result <- m.acquisition.Cancel()
	}) {
		return ErrStopped
	}
	return <-result
}

// State of the acquisition and its current session.
func (m *mainLoop) State() (acquisition.State, acquisition.Session) {
	type stateAndSession struct {
		state   acquisition.State
		session acquisition.Session
	}
	result := make(chan stateAndSession, 1)
	if !m.q(func() {
		result <- stateAndSession{m.acquisition.State(), m.acquisition.Session()}
	}) {
		return acquisition.StateIdle, acquisition.Session{}
	}
	r := <-result
	return r.state, r.session
}

// Table returns a copy of the current table.
func (m *mainLoop) Table() (core.CalibrationTable, error) {
	result := make(chan core.CalibrationTable, 1)
	if !m.q(func() {
		result <- m.acquisition.Table()
	}) {
		return core.CalibrationTable{}, ErrStopped
	}
	return <-result, nil
}

// SetTable replaces the current table.
func (m *mainLoop) SetTable(t core.CalibrationTable) error {
	result := make(chan error, 1)
	if !m.q(func() {
		result <- m.acquisition.SetTable(t)
	}) {
		return ErrStopped
	}
	return <-result
}

// SetFilter sets the filter that is used for views and uploads.
func (m *mainLoop) SetFilter(filter core.Filter) {
	m.q(func() {
		m.filter = filter
	})
}

// Filter that is used for views and uploads.
func (m *mainLoop) Filter() core.Filter {
	result := make(chan core.Filter, 1)
	if !m.q(func() {
		result <- m.filter
	}) {
		return core.Filter{}
	}
	return <-result
}

// Payload for an upload of the current table.
func (m *mainLoop) Payload() (core.DecomposedTable, error) {
	result := make(chan core.DecomposedTable, 1)
	if !m.q(func() {
		result <- m.pipeline.Payload(m.acquisition.Table(), m.filter)
	}) {
		return core.DecomposedTable{}, ErrStopped
	}
	return <-result, nil
}

// View of the current table.
func (m *mainLoop) View(kind core.ViewKind) core.View {
	result := make(chan core.View, 1)
	if !m.q(func() {
		result <- m.pipeline.View(m.acquisition.Table(), m.filter, kind)
	}) {
		return core.View{Kind: kind}
	}
	return <-result
}

// OnTableUpdate registers the given callback. It is called on the main loop and must not call back into it.
func (m *mainLoop) OnTableUpdate(f acquisition.TableUpdated) {
	m.q(func() {
		m.acquisition.OnTableUpdate(f)
	})
}

// OnStateChange registers the given callback. It is called on the main loop and must not call back into it.
func (m *mainLoop) OnStateChange(f acquisition.StateChanged) {
	m.q(func() {
		m.acquisition.OnStateChange(f)
	})
}
