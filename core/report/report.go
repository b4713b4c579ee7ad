// Package report publishes the progress of acquisitions and transfers.
package report

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core/acquisition"
	"github.com/ftl/cogcal/core/transfer"
)

// Operation that is reported.
type Operation string

// All operations.
const (
	OperationAcquisition Operation = "acquisition"
	OperationReadBack    Operation = Operation(transfer.OperationReadBack)
	OperationUpload      Operation = Operation(transfer.OperationUpload)
)

// Event is one progress report.
type Event struct {
	Timestamp int64     `json:"timestamp"`
	Operation Operation `json:"operation"`
	Session   string    `json:"session,omitempty"`
	State     string    `json:"state,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
}

// Reporter receives progress events.
type Reporter interface {
	Report(Event)
}

// TransferEvent converts the progress of a transfer into an event.
func TransferEvent(progress transfer.Progress) Event {
	return Event{
		Timestamp: time.Now().Unix(),
		Operation: Operation(progress.Operation),
		Phase:     progress.Phase.String(),
		Done:      progress.Done,
		Total:     progress.Total,
	}
}

// AcquisitionEvent converts the state of an acquisition session into an event.
func AcquisitionEvent(state acquisition.State, session acquisition.Session) Event {
	return Event{
		Timestamp: time.Now().Unix(),
		Operation: OperationAcquisition,
		Session:   session.ID,
		State:     string(state),
		Done:      session.SamplesReceived,
		Total:     acquisition.TotalSamples,
	}
}

// Multi forwards every event to all given reporters.
type Multi []Reporter

// Report the event to all reporters.
func (m Multi) Report(e Event) {
	for _, reporter := range m {
		reporter.Report(e)
	}
}

// NewLog returns a reporter that logs every event with the given level.
func NewLog(level logrus.Level) *Log {
	return &Log{level: level}
}

// Log writes the events into the log.
type Log struct {
	level logrus.Level
}

// Report the event.
func (l *Log) Report(e Event) {
	fields := logrus.Fields{
		"operation": e.Operation,
		"done":      e.Done,
		"total":     e.Total,
	}
	if e.Session != "" {
		fields["session"] = e.Session
	}
	if e.State != "" {
		fields["state"] = e.State
	}
	if e.Phase != "" {
		fields["phase"] = e.Phase
	}
	logrus.WithFields(fields).Log(l.level, "progress")
}
