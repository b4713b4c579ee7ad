// Package tablefile reads and writes calibration tables as files.
package tablefile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ftl/cogcal/core"
)

// Header is the first line of a calibration table CSV file.
const Header = "pos, iq_forward, iq_reverse"

// ErrParse is returned for any malformed calibration table file.
var ErrParse = errors.New("failed to parse calibration table")

// WriteCSV writes the given table as CSV: one row per angle, the angle with one decimal, the currents with six.
func WriteCSV(w io.Writer, t core.CalibrationTable) error {
	out := bufio.NewWriter(w)
	fmt.Fprintln(out, Header)
	for i := 0; i < core.N; i++ {
		fmt.Fprintf(out, "%.1f, %.6f, %.6f\n", core.Angle(i), t.Forward[i], t.Reverse[i])
	}
	return errors.Wrap(out.Flush(), "cannot write calibration table")
}

// ReadCSV reads a table that was written with WriteCSV. Either the table is complete or ErrParse is returned,
// wrapped with the offending line.
func ReadCSV(r io.Reader) (core.CalibrationTable, error) {
	in := bufio.NewReader(r)

	header, err := readLine(in)
	if err != nil {
		return core.CalibrationTable{}, parseError(1, err)
	}
	if header != Header {
		return core.CalibrationTable{}, parseError(1, errors.Errorf("unexpected header %q", header))
	}

	var result core.CalibrationTable
	for i := 0; i < core.N; i++ {
		line, err := readLine(in)
		if err != nil {
			return core.CalibrationTable{}, parseError(i+2, err)
		}
		values, err := parseRow(line)
		if err != nil {
			return core.CalibrationTable{}, parseError(i+2, err)
		}
		result.Forward[i] = values[1]
		result.Reverse[i] = values[2]
	}
	return result, nil
}

func parseError(line int, cause error) error {
	return errors.Wrapf(ErrParse, "line %d: %v", line, cause)
}

// readLine returns the next line without its terminator. A line must be terminated by a newline,
// a carriage return before the newline is tolerated.
func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return "", errors.New("unexpected end of file")
		}
		return "", errors.New("missing newline")
	}
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func parseRow(line string) ([3]float64, error) {
	var result [3]float64
	fields := strings.Split(line, ",")
	if len(fields) != len(result) {
		return result, errors.Errorf("expected %d fields, got %d", len(result), len(fields))
	}
	for i, field := range fields {
		if i > 0 {
			field = strings.TrimPrefix(field, " ")
		}
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return result, errors.Errorf("invalid value %q", field)
		}
		result[i] = value
	}
	return result, nil
}
