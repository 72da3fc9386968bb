// Package linux implements hal.Port on Linux GPIO character devices.
//
// Each IEC signal is wired to its own GPIO line, with separate input and
// output lines for clock and data as most level-shifter boards provide.
// Lines are requested through the GPIO v2 uAPI (/dev/gpiochipN): inputs in
// one request with edge detection, outputs in another. Edge events are
// read by an epoll loop and delivered to the port handler.
//
// Outputs are open-drain and active-low by default, so asserting a signal
// pulls the bus low. Boards that drive the bus through an inverting buffer
// such as a 7406 set Pins.Inverted.
//
// # Example
//
//	port, err := linux.New("/dev/gpiochip0", linux.Pins{
//	    ATN: 17, ClockIn: 27, ClockOut: 22, DataIn: 23, DataOut: 24,
//	    SRQ: -1, Reset: 25,
//	})
package linux
