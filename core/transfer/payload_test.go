package transfer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/cogcal/core"
)

func TestEncodePayloadLayout(t *testing.T) {
	var table core.DecomposedTable
	table.Common[0] = 1
	table.Common[core.N-1] = -2
	table.Differential[0] = 0.5

	actual := EncodePayload(table)

	require.Equal(t, core.PayloadSize, len(actual))
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, actual[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0xc0}, actual[14396:14400])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x3f}, actual[14400:14404])
}

func TestDecodePayloadWidensFloat32(t *testing.T) {
	var table core.DecomposedTable
	table.Common[1] = 0.1
	table.Differential[2] = 1e-3

	actual := DecodePayload(EncodePayload(table))

	assert.Equal(t, float64(float32(0.1)), actual.Common[1])
	assert.Equal(t, float64(float32(1e-3)), actual.Differential[2])
	assert.InDelta(t, 0.1, actual.Common[1], 1e-7)
}

func TestDecodePayloadWrongSize(t *testing.T) {
	assert.Panics(t, func() {
		DecodePayload(make([]byte, core.PayloadSize-1))
	})
}

func TestChunks(t *testing.T) {
	tt := []struct {
		length       int
		size         int
		count        int
		lastChunkLen int
	}{
		{core.PayloadSize, core.ChunkSize, 58, 300},
		{1000, 500, 2, 500},
		{1001, 500, 3, 1},
		{499, 500, 1, 499},
		{0, 500, 0, 0},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%d/%d", tc.length, tc.size), func(t *testing.T) {
			buffer := make([]byte, tc.length)
			for i := range buffer {
				buffer[i] = byte(i)
			}

			actual := Chunks(buffer, tc.size)

			require.Equal(t, tc.count, len(actual))
			joined := []byte{}
			for _, chunk := range actual {
				assert.Equal(t, len(joined), chunk.Offset)
				assert.True(t, len(chunk.Data) <= tc.size)
				joined = append(joined, chunk.Data...)
			}
			assert.Equal(t, buffer, joined)
			if tc.count > 0 {
				assert.Equal(t, tc.lastChunkLen, len(actual[tc.count-1].Data))
			}
		})
	}
}
