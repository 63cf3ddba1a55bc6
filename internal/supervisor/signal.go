package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// newSignalChannel returns a channel delivering exactly one SIGINT,
// matching the original's single signal.signal(SIGINT, ...) registration
// (spec §4.8 sigint_handler).
func newSignalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	return ch
}
