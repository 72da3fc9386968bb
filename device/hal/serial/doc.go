// Package serial implements hal.Port on the modem control lines of a serial
// port.
//
// A simple adapter wires the IEC signals to RS-232 handshake lines through
// level shifters: the port drives clock and data on RTS and DTR and reads
// ATN, clock, data and reset on CTS, DSR, DCD and RI. The serial data pins
// are unused. Input edges are found by polling the modem status, so the
// adapter suits slow timing tables rather than real drive timing.
//
// # Example
//
//	port := serial.New("/dev/ttyUSB0", serial.DefaultWiring)
//	port.SetPollInterval(200 * time.Microsecond)
//	bus, _ := device.NewBus(port, registry, cfg)
package serial
