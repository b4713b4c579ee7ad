package tablefile

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/ftl/cogcal/core"
)

// TableSheet is the name of the worksheet that contains the raw calibration table.
const TableSheet = "Table"

// WriteXLSX writes the given table into a spreadsheet. Every given view gets its own worksheet.
func WriteXLSX(w io.Writer, t core.CalibrationTable, views ...core.View) error {
	f := excelize.NewFile()
	defer f.Close()

	err := f.SetSheetName(f.GetSheetName(0), TableSheet)
	if err != nil {
		return errors.Wrap(err, "cannot create table sheet")
	}
	err = writeColumns(f, TableSheet,
		[]string{"pos", "iq_forward", "iq_reverse"},
		core.AngleAxis(), t.Forward[:], t.Reverse[:],
	)
	if err != nil {
		return err
	}

	for _, view := range views {
		sheet := view.Kind.String()
		if _, err := f.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, "cannot create sheet %s", sheet)
		}
		err = writeColumns(f, sheet,
			[]string{view.XLabel, view.Names[0], view.Names[1]},
			view.X, view.Curves[0], view.Curves[1],
		)
		if err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return errors.Wrap(err, "cannot write spreadsheet")
}

func writeColumns(f *excelize.File, sheet string, header []string, columns ...[]float64) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrapf(err, "cannot write header of %s", sheet)
	}
	row := make([]float64, len(columns))
	for i := range columns[0] {
		for j, column := range columns {
			row[j] = column[i]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "cannot write row %d of %s", i+2, sheet)
		}
	}
	return nil
}

// ReadXLSX reads the table sheet of a spreadsheet that was written with WriteXLSX.
func ReadXLSX(r io.Reader) (core.CalibrationTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return core.CalibrationTable{}, errors.Wrap(ErrParse, err.Error())
	}
	defer f.Close()

	rows, err := f.GetRows(TableSheet)
	if err != nil {
		return core.CalibrationTable{}, errors.Wrap(ErrParse, err.Error())
	}
	if len(rows) < core.N+1 {
		return core.CalibrationTable{}, errors.Wrapf(ErrParse, "expected %d rows, got %d", core.N+1, len(rows))
	}

	var result core.CalibrationTable
	for i, row := range rows[1 : core.N+1] {
		if len(row) < 3 {
			return core.CalibrationTable{}, errors.Wrapf(ErrParse, "row %d: expected 3 cells, got %d", i+2, len(row))
		}
		forward, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return core.CalibrationTable{}, errors.Wrapf(ErrParse, "row %d: invalid value %q", i+2, row[1])
		}
		reverse, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return core.CalibrationTable{}, errors.Wrapf(ErrParse, "row %d: invalid value %q", i+2, row[2])
		}
		result.Forward[i] = forward
		result.Reverse[i] = reverse
	}
	return result, nil
}
