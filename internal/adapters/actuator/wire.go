package actuator

import (
	"bytes"
	"slices"
)

// Serial framing: command [0x7E][seq][nozzle][action][crc8], ack
// [0x7E][seq][status][crc8]. The CRC covers the bytes between the marker
// and the CRC. Undecodable input is skipped by resyncing on the marker;
// neither side treats garbage as fatal
const (
	frameMarker = 0x7E

	cmdFrameLen = 5
	ackFrameLen = 4

	ackOK       = 0x00
	ackRejected = 0x01
)

// Action is the commanded nozzle state
type Action uint8

// Wire values for Action
const (
	ActionClose Action = 0x00
	ActionOpen  Action = 0x01
)

func (a Action) String() string {
	if a == ActionOpen {
		return "open"
	}
	return "close"
}

// Command is one framed actuator instruction
type Command struct {
	Seq    uint8
	Nozzle uint8
	Action Action
}

// encode renders the 5-byte wire frame
func (c Command) encode() []byte {
	body := []byte{c.Seq, c.Nozzle, byte(c.Action)}
	out := make([]byte, 0, cmdFrameLen)
	out = append(out, frameMarker)
	out = append(out, body...)
	return append(out, crc8(body))
}

// encodeAck renders the 4-byte acknowledgement frame
func encodeAck(seq, status uint8) []byte {
	body := []byte{seq, status}
	out := make([]byte, 0, ackFrameLen)
	out = append(out, frameMarker)
	out = append(out, body...)
	return append(out, crc8(body))
}

// crc8 is CRC-8 with polynomial 0x07 and zero init
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// frameScanner extracts fixed-size frames from a byte stream, resyncing on
// the marker when the CRC fails. size includes marker and CRC
type frameScanner struct {
	size int
	buf  []byte
}

// feed appends p and returns every decoded frame body (bytes between marker
// and CRC) plus how many bytes were skipped as garbage
func (s *frameScanner) feed(p []byte) (bodies [][]byte, skipped int) {
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, frameMarker)
		if i < 0 {
			skipped += len(s.buf)
			s.buf = s.buf[:0]
			return bodies, skipped
		}
		skipped += i
		s.buf = s.buf[i:]

		if len(s.buf) < s.size {
			// partial frame, wait for more bytes
			return bodies, skipped
		}

		body := s.buf[1 : s.size-1]
		if crc8(body) == s.buf[s.size-1] {
			bodies = append(bodies, slices.Clone(body))
			s.buf = s.buf[s.size:]
			continue
		}

		// bad CRC: skip this marker and rescan from the next byte
		skipped++
		s.buf = s.buf[1:]
	}
}
