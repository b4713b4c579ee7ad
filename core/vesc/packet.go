package vesc

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	packetStartShort byte = 0x02
	packetStartLong  byte = 0x03
	packetEnd        byte = 0x03

	// MaxPayload is the largest payload the device accepts in one packet.
	MaxPayload = 512
)

var (
	ErrCRC   = errors.New("packet checksum mismatch")
	ErrFrame = errors.New("malformed packet frame")
)

// EncodePacket frames the given payload: start byte, length, payload, crc16 and end byte.
// Payloads longer than 255 bytes use the long frame with a 16 bit length.
func EncodePacket(payload []byte) []byte {
	result := make([]byte, 0, len(payload)+6)
	if len(payload) <= 0xff {
		result = append(result, packetStartShort, byte(len(payload)))
	} else {
		result = append(result, packetStartLong, byte(len(payload)>>8), byte(len(payload)))
	}
	result = append(result, payload...)
	result = binary.BigEndian.AppendUint16(result, crc16(payload))
	return append(result, packetEnd)
}

// ReadPacket reads the next packet from the given reader and returns its payload.
// Bytes before a start byte are skipped. ErrCRC and ErrFrame are recoverable, the next call resynchronizes.
func ReadPacket(r *bufio.Reader) ([]byte, error) {
	var start byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == packetStartShort || b == packetStartLong {
			start = b
			break
		}
	}

	var length int
	if start == packetStartShort {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		length = int(b)
	} else {
		var raw [2]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, err
		}
		length = int(binary.BigEndian.Uint16(raw[:]))
	}
	if length == 0 || length > MaxPayload {
		return nil, errors.Wrapf(ErrFrame, "invalid length %d", length)
	}

	buffer := make([]byte, length+3)
	if _, err := io.ReadFull(r, buffer); err != nil {
		return nil, err
	}
	payload := buffer[:length]
	checksum := binary.BigEndian.Uint16(buffer[length:])
	if buffer[length+2] != packetEnd {
		return nil, errors.Wrapf(ErrFrame, "invalid end byte 0x%02x", buffer[length+2])
	}
	if checksum != crc16(payload) {
		return nil, errors.Wrapf(ErrCRC, "got 0x%04x, expected 0x%04x", checksum, crc16(payload))
	}
	return payload, nil
}

// crc16 is CRC-16/XMODEM: polynomial 0x1021, initial value 0, no reflection.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
