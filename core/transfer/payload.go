package transfer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ftl/cogcal/core"
)

const valueSize = 4

// EncodePayload encodes the given table as little-endian float32 values, common mode first.
func EncodePayload(t core.DecomposedTable) []byte {
	result := make([]byte, 0, core.PayloadSize)
	result = appendValues(result, t.Common[:])
	result = appendValues(result, t.Differential[:])

	if len(result) != core.PayloadSize {
		panic(fmt.Sprintf("wrong payload size %d != %d expected", len(result), core.PayloadSize))
	}
	return result
}

func appendValues(buffer []byte, values []float64) []byte {
	var raw [valueSize]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(raw[:], math.Float32bits(float32(v)))
		buffer = append(buffer, raw[:]...)
	}
	return buffer
}

// DecodePayload decodes a payload that was encoded with EncodePayload. The values are widened to float64.
func DecodePayload(payload []byte) core.DecomposedTable {
	if len(payload) != core.PayloadSize {
		panic(fmt.Sprintf("wrong payload size %d != %d expected", len(payload), core.PayloadSize))
	}

	var result core.DecomposedTable
	half := core.PayloadSize / 2
	decodeValues(result.Common[:], payload[:half])
	decodeValues(result.Differential[:], payload[half:])
	return result
}

func decodeValues(values []float64, raw []byte) {
	for i := range values {
		bits := binary.LittleEndian.Uint32(raw[i*valueSize:])
		values[i] = float64(math.Float32frombits(bits))
	}
}

// Chunk of a payload at the given offset.
type Chunk struct {
	Offset int
	Data   []byte
}

// Chunks partitions the given buffer into consecutive chunks of at most size bytes.
func Chunks(buffer []byte, size int) []Chunk {
	result := make([]Chunk, 0, (len(buffer)+size-1)/size)
	for offset := 0; offset < len(buffer); offset += size {
		end := offset + size
		if end > len(buffer) {
			end = len(buffer)
		}
		result = append(result, Chunk{Offset: offset, Data: buffer[offset:end]})
	}
	return result
}
