// Package cli is the command line front end of cogcal.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ftl/cogcal/core"
	"github.com/ftl/cogcal/core/app"
	"github.com/ftl/cogcal/core/tablefile"
	"github.com/ftl/cogcal/core/transfer"
)

var (
	gDevice       = "Device:"
	gTable        = "Table:"
	commandGroups = []string{
		gDevice,
		gTable,
	}
)

// Run the command line with the given arguments and return the exit code.
func Run(configuration core.Configuration, args []string) int {
	cmd := NewCommand(configuration)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		handleCmdError(cmd.ErrOrStderr(), err)
		return 1
	}
	return 0
}

// NewCommand returns the root command. The given configuration provides the defaults of all flags.
func NewCommand(configuration core.Configuration) *cobra.Command {
	r := &runner{
		configuration: configuration,
		logLevel:      "info",
	}

	cmd := &cobra.Command{
		Use:   "cogcal",
		Short: "cogcal calibrates the anticogging compensation of a motor controller",
		Long: `cogcal measures the cogging torque of a motor over one revolution in both directions,
filters the measurement in the frequency domain and transfers the compensation table
to and from the motor controller.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger(r.logLevel)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&r.logLevel, "log-level", "l", r.logLevel, "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&r.configuration.Port, "port", configuration.Port, "serial port of the motor controller")
	globalFlags.IntVar(&r.configuration.BaudRate, "baud", configuration.BaudRate, "baud rate of the serial port")
	globalFlags.BoolVar(&r.configuration.Testmode, "testmode", configuration.Testmode, "use a simulated motor controller")
	globalFlags.DurationVar(&r.simulationInterval, "sim-interval", time.Millisecond, "time between two simulated samples")
	globalFlags.MarkHidden("sim-interval")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		r.newCalibrateCommand(),
		r.newReadCommand(),
		r.newUploadCommand(),
		r.newShowCommand(),
		r.newExportCommand(),
	)

	return cmd
}

type runner struct {
	configuration      core.Configuration
	logLevel           string
	simulationInterval time.Duration
}

func setupLogger(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(w io.Writer, err error) {
	switch {
	case errors.Is(err, transfer.ErrUploadFailed) && errors.Is(err, transfer.ErrTimeout):
		fmt.Fprintln(w, "\nError: the motor controller did not acknowledge the upload in time")
		fmt.Fprintln(w, "Is the motor controller connected and powered?")
	case errors.Is(err, transfer.ErrUploadFailed):
		fmt.Fprintln(w, "\nError: the motor controller rejected the upload")
	case errors.Is(err, transfer.ErrTimeout):
		fmt.Fprintln(w, "\nError: data transfer timeout")
		fmt.Fprintln(w, "Is the motor controller connected and powered?")
	case errors.Is(err, transfer.ErrNoValidData):
		fmt.Fprintln(w, "\nError: the motor controller holds no valid calibration data")
		fmt.Fprintln(w, "  - Run 'cogcal calibrate' and 'cogcal upload' first")
	case errors.Is(err, tablefile.ErrParse):
		fmt.Fprintln(w, "\nError: the table file cannot be parsed")
		fmt.Fprintf(w, "  - A CSV table starts with the line %q followed by %d rows\n", tablefile.Header, core.N)
	case errors.Is(err, app.ErrNotConnected):
		fmt.Fprintln(w, "\nError: no motor controller connected")
	}
}

// withController runs f with a started controller. If connect is true, the controller is connected to the device first.
func (r *runner) withController(connect bool, f func(*app.Controller) error) error {
	controller := app.New(r.configuration)
	controller.SetSimulationInterval(r.simulationInterval)
	if err := controller.Startup(); err != nil {
		return err
	}
	defer controller.Shutdown()

	if connect {
		if err := controller.Connect(); err != nil {
			return err
		}
	}
	return f(controller)
}
