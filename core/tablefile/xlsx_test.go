package tablefile

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ftl/cogcal/core"
)

func TestXLSXRoundtrip(t *testing.T) {
	table := testTable()
	table.Forward[17] = 0.123456789
	buffer := new(bytes.Buffer)

	err := WriteXLSX(buffer, table)
	require.NoError(t, err)

	actual, err := ReadXLSX(buffer)
	require.NoError(t, err)
	for i := 0; i < core.N; i++ {
		assert.InDelta(t, table.Forward[i], actual.Forward[i], 1e-12, "forward %d", i)
		assert.InDelta(t, table.Reverse[i], actual.Reverse[i], 1e-12, "reverse %d", i)
	}
}

func TestWriteXLSXViews(t *testing.T) {
	view := core.View{
		Kind:   core.ViewSpectrum,
		XLabel: "Freq",
		Names:  [2]string{"Common Mode", "Differential Mode"},
		X:      []float64{0, 1, 2},
		Curves: [2][]float64{{3, 4, 5}, {6, 7, 8}},
	}
	buffer := new(bytes.Buffer)

	err := WriteXLSX(buffer, testTable(), view)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buffer)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{TableSheet, "spectrum"}, f.GetSheetList())

	rows, err := f.GetRows("spectrum")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Freq", "Common Mode", "Differential Mode"},
		{"0", "3", "6"},
		{"1", "4", "7"},
		{"2", "5", "8"},
	}, rows)

	header, err := f.GetRows(TableSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos", "iq_forward", "iq_reverse"}, header[0])
	assert.Equal(t, core.N+1, len(header))
}

func TestReadXLSXInvalid(t *testing.T) {
	_, err := ReadXLSX(bytes.NewBufferString("not a spreadsheet"))

	assert.True(t, errors.Is(err, ErrParse))
}
