package actuator

import (
	"io"

	"go.bug.st/serial"

	perr "sprayer/internal/platform/errors"
)

// Port is the byte link to the nozzle controller. Satisfied by a real
// serial port and by MCUSim for loopback runs
type Port interface {
	io.ReadWriteCloser
}

// OpenSerial opens the RS-232 link to the nozzle controller MCU
func OpenSerial(device string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeActuatorFault, "open serial %s", device)
	}
	return p, nil
}
