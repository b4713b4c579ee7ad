package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ftl/cogcal/core"
	"github.com/ftl/cogcal/core/acquisition"
	"github.com/ftl/cogcal/core/app"
)

// ErrCalibrationCancelled is returned by calibrate when the acquisition ends without a complete sweep.
var ErrCalibrationCancelled = errors.New("calibration cancelled")

func (r *runner) newCalibrateCommand() *cobra.Command {
	var out string
	params := &r.configuration.Params

	cmd := &cobra.Command{
		Use:     "calibrate",
		Short:   "Measure the cogging torque over one revolution in both directions",
		Long:    "Start the acquisition on the motor controller, collect the samples of the forward and reverse sweep and write the table as CSV. Ctrl-C cancels the acquisition and stops the motor.",
		GroupID: gDevice,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return r.withController(true, func(controller *app.Controller) error {
				ended := make(chan acquisition.State, 1)
				controller.OnStateChange(func(_, to acquisition.State, _ acquisition.Session) {
					if to == acquisition.StateFinished || to == acquisition.StateCancelled {
						select {
						case ended <- to:
						default:
						}
					}
				})
				progress := newProgressPrinter(cmd.ErrOrStderr())
				controller.OnTableUpdate(func(_ core.CalibrationTable, session acquisition.Session) {
					progress.Update(session)
				})

				if err := controller.StartCalibration(*params); err != nil {
					return err
				}

				var state acquisition.State
				select {
				case state = <-ended:
				case <-ctx.Done():
					err := controller.CancelCalibration()
					if err != nil && !errors.Is(err, acquisition.ErrAcquisitionNotRunning) {
						return err
					}
					state = <-ended
				}
				progress.Done()
				if state != acquisition.StateFinished {
					return ErrCalibrationCancelled
				}

				if err := writeTable(controller, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Calibration table written to %s.\n", bold("%s", out))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "", "file to write the table to (.csv or .xlsx)")
	flags.Uint16Var(&params.Attempts, "attempts", params.Attempts, "attempts per position until the sample is accepted")
	flags.Uint16Var(&params.SamplesPerPoint, "samples-per-point", params.SamplesPerPoint, "samples that are averaged per position")
	flags.Float64Var(&params.AbsoluteTolerance, "abs-tolerance", params.AbsoluteTolerance, "absolute tolerance of the q-current in ampere")
	flags.Float64Var(&params.Tolerance, "tolerance", params.Tolerance, "relative tolerance of the q-current")
	cmd.MarkFlagRequired("out")

	return cmd
}

func (r *runner) newReadCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:     "read",
		Short:   "Read the calibration table back from the motor controller",
		GroupID: gDevice,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withController(true, func(controller *app.Controller) error {
				if err := controller.ReadBack(cmd.Context()); err != nil {
					return err
				}
				if err := writeTable(controller, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Calibration table read back into %s.\n", bold("%s", out))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the table to (.csv or .xlsx)")
	cmd.MarkFlagRequired("out")

	return cmd
}

func (r *runner) newUploadCommand() *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:     "upload",
		Short:   "Upload a calibration table to the motor controller",
		Long:    "Upload the common and differential mode of the table to the motor controller. With --filter, both modes are low-pass filtered first.",
		GroupID: gDevice,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withController(true, func(controller *app.Controller) error {
				if err := readTable(controller, in); err != nil {
					return err
				}
				if err := controller.Upload(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Calibration table uploaded (%s).\n", describeFilter(controller.Filter()))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "file to read the table from (.csv or .xlsx)")
	addFilterFlags(cmd.Flags(), &r.configuration.Filter)
	cmd.MarkFlagRequired("in")

	return cmd
}

func (r *runner) newShowCommand() *cobra.Command {
	var (
		in       string
		viewName string
		rows     int
	)

	cmd := &cobra.Command{
		Use:     "show",
		Short:   "Show statistics and the first rows of a view of a calibration table",
		GroupID: gTable,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := core.ParseViewKind(viewName)
			if err != nil {
				return err
			}
			return r.withController(false, func(controller *app.Controller) error {
				if err := readTable(controller, in); err != nil {
					return err
				}
				printView(cmd.OutOrStdout(), controller.View(kind), controller.Filter(), rows)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&in, "in", "i", "", "file to read the table from (.csv or .xlsx)")
	flags.StringVar(&viewName, "view", core.ViewRaw.String(), "view to show (raw, decomposed, spectrum)")
	flags.IntVar(&rows, "rows", 10, "number of rows to show")
	addFilterFlags(flags, &r.configuration.Filter)
	cmd.MarkFlagRequired("in")

	return cmd
}

func (r *runner) newExportCommand() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Convert a calibration table into a spreadsheet with all views",
		GroupID: gTable,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isXLSX(out) {
				return errors.Errorf("%s is not a .xlsx file", out)
			}
			return r.withController(false, func(controller *app.Controller) error {
				if err := readTable(controller, in); err != nil {
					return err
				}
				if err := writeTable(controller, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spreadsheet written to %s.\n", bold("%s", out))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&in, "in", "i", "", "file to read the table from (.csv or .xlsx)")
	flags.StringVarP(&out, "out", "o", "", "spreadsheet to write (.xlsx)")
	addFilterFlags(flags, &r.configuration.Filter)
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")

	return cmd
}

func addFilterFlags(flags *pflag.FlagSet, filter *core.Filter) {
	flags.BoolVar(&filter.Enabled, "filter", filter.Enabled, "low-pass filter the table")
	flags.IntVar(&filter.CommonCutoff, "cm-cutoff", filter.CommonCutoff, "cutoff frequency index of the common mode")
	flags.IntVar(&filter.DifferentialCutoff, "dm-cutoff", filter.DifferentialCutoff, "cutoff frequency index of the differential mode")
}

func isXLSX(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".xlsx")
}

func readTable(controller *app.Controller, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if isXLSX(filename) {
		err = controller.ImportXLSX(f)
	} else {
		err = controller.ImportCSV(f)
	}
	return errors.Wrapf(err, "cannot import %s", filename)
}

func writeTable(controller *app.Controller, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	if isXLSX(filename) {
		err = controller.ExportXLSX(f)
	} else {
		err = controller.ExportCSV(f)
	}
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "cannot export %s", filename)
	}
	return f.Close()
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func describeFilter(filter core.Filter) string {
	if !filter.Enabled {
		return "unfiltered"
	}
	return fmt.Sprintf("filtered, common cutoff %d, differential cutoff %d", filter.CommonCutoff, filter.DifferentialCutoff)
}

func printView(w io.Writer, view core.View, filter core.Filter, rows int) {
	fmt.Fprintf(w, "View: %s (%s)\n", bold("%s", view.Kind), describeFilter(filter))
	for i, curve := range view.Curves {
		if len(curve) == 0 {
			continue
		}
		mean, stdDev := stat.MeanStdDev(curve, nil)
		fmt.Fprintf(w, "%s: mean %s  std dev %s  min %s  max %s\n",
			bold("%s", view.Names[i]),
			bold("%.6f", mean),
			bold("%.6f", stdDev),
			bold("%.6f", floats.Min(curve)),
			bold("%.6f", floats.Max(curve)),
		)
	}

	rows = min(rows, len(view.X))
	if rows <= 0 {
		return
	}
	fmt.Fprintf(w, "\n%-12s %14s %14s\n", view.XLabel, view.Names[0], view.Names[1])
	for row := 0; row < rows; row++ {
		fmt.Fprintf(w, "%-12.1f %14.6f %14.6f\n", view.X[row], view.Curves[0][row], view.Curves[1][row])
	}
}

// progressPrinter prints the acquisition progress in steps of ten percent.
type progressPrinter struct {
	w    io.Writer
	last int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: -1}
}

func (p *progressPrinter) Update(session acquisition.Session) {
	percent := 100 * session.SamplesReceived / acquisition.TotalSamples
	step := percent / 10 * 10
	if step <= p.last {
		return
	}
	p.last = step
	fmt.Fprintf(p.w, "\racquiring %3d%%  %s remaining", step, session.Remaining().Round(time.Second))
}

func (p *progressPrinter) Done() {
	if p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
