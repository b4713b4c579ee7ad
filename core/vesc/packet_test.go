package vesc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	tt := []struct {
		value    string
		expected uint16
	}{
		{"", 0x0000},
		{"A", 0x58e5},
		{"123456789", 0x31c3},
	}
	for _, tc := range tt {
		t.Run(tc.value, func(t *testing.T) {
			assert.Equal(t, tc.expected, crc16([]byte(tc.value)))
		})
	}
}

func TestEncodePacket(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0x01, 'A', 0x58, 0xe5, 0x03}, EncodePacket([]byte("A")))

	long := make([]byte, 300)
	actual := EncodePacket(long)
	require.Equal(t, 300+6, len(actual))
	assert.Equal(t, []byte{0x03, 0x01, 0x2c}, actual[:3])
	assert.Equal(t, byte(0x03), actual[len(actual)-1])
}

func TestPacketRoundtrip(t *testing.T) {
	for _, length := range []int{1, 10, 255, 256, 506, MaxPayload} {
		t.Run(fmt.Sprintf("%d", length), func(t *testing.T) {
			payload := make([]byte, length)
			for i := range payload {
				payload[i] = byte(i * 7)
			}

			actual, err := ReadPacket(bufio.NewReader(bytes.NewReader(EncodePacket(payload))))

			require.NoError(t, err)
			assert.Equal(t, payload, actual)
		})
	}
}

func TestReadPacketSkipsGarbage(t *testing.T) {
	stream := append([]byte{0xff, 0x00, 0x42}, EncodePacket([]byte{1, 2, 3})...)

	actual, err := ReadPacket(bufio.NewReader(bytes.NewReader(stream)))

	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, actual)
}

func TestReadPacketErrors(t *testing.T) {
	valid := EncodePacket([]byte{1, 2, 3})
	corrupt := func(index int, value byte) []byte {
		result := append([]byte{}, valid...)
		result[index] = value
		return result
	}
	tt := []struct {
		name     string
		stream   []byte
		expected error
	}{
		{"checksum", corrupt(3, 9), ErrCRC},
		{"end byte", corrupt(len(valid)-1, 0x04), ErrFrame},
		{"zero length", []byte{0x02, 0x00, 0x00, 0x00, 0x03}, ErrFrame},
		{"too long", []byte{0x03, 0x02, 0x01}, ErrFrame},
		{"truncated", valid[:4], io.ErrUnexpectedEOF},
		{"empty", nil, io.EOF},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPacket(bufio.NewReader(bytes.NewReader(tc.stream)))

			assert.Equal(t, tc.expected, errors.Cause(err))
		})
	}
}

func TestReadPacketResynchronizes(t *testing.T) {
	broken := EncodePacket([]byte{9, 9, 9})
	broken[3] = 0
	stream := append(broken, EncodePacket([]byte{4, 5})...)
	reader := bufio.NewReader(bytes.NewReader(stream))

	_, err := ReadPacket(reader)
	require.Equal(t, ErrCRC, errors.Cause(err))

	actual, err := ReadPacket(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, actual)
}
