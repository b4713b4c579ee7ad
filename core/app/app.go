package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core"
	"github.com/ftl/cogcal/core/acquisition"
	"github.com/ftl/cogcal/core/dsp"
	"github.com/ftl/cogcal/core/report"
	"github.com/ftl/cogcal/core/sim"
	"github.com/ftl/cogcal/core/tablefile"
	"github.com/ftl/cogcal/core/transfer"
	"github.com/ftl/cogcal/core/vesc"
)

var (
	ErrStopped      = errors.New("application is not running")
	ErrNotConnected = errors.New("no device connected")
)

// New returns a new Controller with the given configuration.
func New(configuration core.Configuration) *Controller {
	return &Controller{
		configuration:      configuration,
		simulationInterval: time.Millisecond,
		connected:          make(chan struct{}),
	}
}

// Controller for the application.
type Controller struct {
	configuration      core.Configuration
	simulationInterval time.Duration

	done         chan struct{}
	subProcesses *sync.WaitGroup

	mainLoop  *mainLoop
	reporter  report.Multi
	mqtt      *report.MQTT
	device    core.Device
	closer    io.Closer
	protocol  *transfer.Protocol
	connected chan struct{}
}

// Startup the application without a device. Offline operations like import, export and views are available.
func (c *Controller) Startup() error {
	c.done = make(chan struct{})
	c.subProcesses = new(sync.WaitGroup)

	c.reporter = report.Multi{report.NewLog(logrus.DebugLevel)}
	if c.configuration.MQTTBroker != "" {
		mqtt, err := report.NewMQTT(c.configuration.MQTTBroker, c.configuration.MQTTTopic)
		if err != nil {
			logrus.WithError(err).Warn("progress is not published")
		} else {
			c.mqtt = mqtt
			c.reporter = append(c.reporter, mqtt)
		}
	}

	machine := acquisition.New(deviceController{c})
	machine.OnStateChange(func(from, to acquisition.State, session acquisition.Session) {
		c.reporter.Report(report.AcquisitionEvent(to, session))
	})
	lastReported := 0
	machine.OnTableUpdate(func(_ core.CalibrationTable, session acquisition.Session) {
		if session.SamplesReceived < lastReported {
			lastReported = 0
		}
		if session.SamplesReceived-lastReported < core.N/10 {
			return
		}
		lastReported = session.SamplesReceived
		c.reporter.Report(report.AcquisitionEvent(acquisition.StateAcquiring, session))
	})

	filter := c.configuration.Filter
	if err := filter.Valid(); err != nil {
		return err
	}
	c.mainLoop = newMainLoop(machine, dsp.NewPipeline(), filter)

	c.subProcesses.Add(1)
	go func() {
		defer c.subProcesses.Done()
		c.mainLoop.Run(c.done)
	}()
	return nil
}

// SetSimulationInterval sets the time between two sample events of the simulated device. It must be called before Connect.
func (c *Controller) SetSimulationInterval(interval time.Duration) {
	c.simulationInterval = interval
}

// Connect to the configured device, or to a simulated device in testmode.
func (c *Controller) Connect() error {
	if c.device != nil {
		return nil
	}

	if c.configuration.Testmode {
		device := sim.New(c.simulationInterval, time.Now().UnixNano())
		c.device = device
		c.closer = device
		logrus.Info("testmode: using a simulated device")
	} else {
		device, err := vesc.Open(c.configuration.Port, c.configuration.BaudRate)
		if err != nil {
			return err
		}
		c.device = device
		defer device.Run(c.done, c.subProcesses)
	}

	c.protocol = transfer.New(c.device)
	c.protocol.OnProgress(func(progress transfer.Progress) {
		c.reporter.Report(report.TransferEvent(progress))
	})
	c.device.OnReadBack(c.protocol.ReadBackReceived)
	c.device.OnAck(c.protocol.AckReceived)
	c.device.OnSample(c.mainLoop.HandleSample)
	close(c.connected)
	return nil
}

// Shutdown the application.
func (c *Controller) Shutdown() {
	close(c.done)
	c.subProcesses.Wait()
	if c.closer != nil {
		c.closer.Close()
	}
	if c.mqtt != nil {
		c.mqtt.Close()
	}
}

// deviceController lets the acquisition reach the device that is connected later.
type deviceController struct {
	c *Controller
}

func (d deviceController) StartCalibration(params core.CalibrationParams) error {
	select {
	case <-d.c.connected:
		return d.c.device.StartCalibration(params)
	default:
		return ErrNotConnected
	}
}

func (d deviceController) CancelCalibration() error {
	select {
	case <-d.c.connected:
		return d.c.device.CancelCalibration()
	default:
		return ErrNotConnected
	}
}

// StartCalibration starts a new acquisition with the given parameters.
func (c *Controller) StartCalibration(params core.CalibrationParams) error {
	return c.mainLoop.Start(params)
}

// CancelCalibration cancels the running acquisition and stops the motor.
func (c *Controller) CancelCalibration() error {
	return c.mainLoop.Cancel()
}

// Acquisition returns the state of the acquisition and its current session.
func (c *Controller) Acquisition() (acquisition.State, acquisition.Session) {
	return c.mainLoop.State()
}

// OnStateChange registers the given callback to be notified on acquisition state changes.
// The callback must not call back into the controller.
func (c *Controller) OnStateChange(f acquisition.StateChanged) {
	c.mainLoop.OnStateChange(f)
}

// OnTableUpdate registers the given callback to be notified on table changes.
// The callback must not call back into the controller.
func (c *Controller) OnTableUpdate(f acquisition.TableUpdated) {
	c.mainLoop.OnTableUpdate(f)
}

// OnTransferProgress registers the given callback to be notified about the progress of transfers.
func (c *Controller) OnTransferProgress(f transfer.ProgressFunc) error {
	if c.protocol == nil {
		return ErrNotConnected
	}
	c.protocol.OnProgress(f)
	return nil
}

// ReadBack reads the calibration data from the device. The current table is only replaced
// if the complete data was received.
func (c *Controller) ReadBack(ctx context.Context) error {
	if c.protocol == nil {
		return ErrNotConnected
	}
	decomposed, err := c.protocol.ReadBack(ctx)
	if err != nil {
		return err
	}
	return c.mainLoop.SetTable(decomposed.Compose())
}

// Upload the current table to the device, filtered if the filter is enabled.
func (c *Controller) Upload(ctx context.Context) error {
	if c.protocol == nil {
		return ErrNotConnected
	}
	payload, err := c.mainLoop.Payload()
	if err != nil {
		return err
	}
	return c.protocol.Upload(ctx, payload)
}

// Table returns a copy of the current table.
func (c *Controller) Table() (core.CalibrationTable, error) {
	return c.mainLoop.Table()
}

// SetFilter for views and uploads.
func (c *Controller) SetFilter(filter core.Filter) error {
	if err := filter.Valid(); err != nil {
		return err
	}
	c.mainLoop.SetFilter(filter)
	return nil
}

// Filter for views and uploads.
func (c *Controller) Filter() core.Filter {
	return c.mainLoop.Filter()
}

// View of the current table.
func (c *Controller) View(kind core.ViewKind) core.View {
	return c.mainLoop.View(kind)
}

// ImportCSV replaces the current table with the table read from the given reader.
// On any error the current table stays unchanged.
func (c *Controller) ImportCSV(r io.Reader) error {
	table, err := tablefile.ReadCSV(r)
	if err != nil {
		return err
	}
	return c.mainLoop.SetTable(table)
}

// ExportCSV writes the current table as CSV.
func (c *Controller) ExportCSV(w io.Writer) error {
	table, err := c.mainLoop.Table()
	if err != nil {
		return err
	}
	return tablefile.WriteCSV(w, table)
}

// ExportXLSX writes the current table and all views as spreadsheet.
func (c *Controller) ExportXLSX(w io.Writer) error {
	table, err := c.mainLoop.Table()
	if err != nil {
		return err
	}
	views := []core.View{
		c.mainLoop.View(core.ViewRaw),
		c.mainLoop.View(core.ViewDecomposed),
		c.mainLoop.View(core.ViewSpectrum),
	}
	return tablefile.WriteXLSX(w, table, views...)
}

// ImportXLSX replaces the current table with the table sheet of the given spreadsheet.
// On any error the current table stays unchanged.
func (c *Controller) ImportXLSX(r io.Reader) error {
	table, err := tablefile.ReadXLSX(r)
	if err != nil {
		return err
	}
	return c.mainLoop.SetTable(table)
}
