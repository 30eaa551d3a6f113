// Package signal turns SIGINT/SIGTERM into a channel close, the teacher's
// cooperative-shutdown idiom (daglabs-btcd's "signal" package, imported from
// every long-running cmd/ entrypoint).
package signal

import (
	"os"
	"os/signal"
	"syscall"
)

// InterruptListener returns a channel that is closed the first time the
// process receives SIGINT or SIGTERM. A second signal is ignored; shutdown
// is expected to be already underway by then.
func InterruptListener() <-chan struct{} {
	c := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		close(c)
	}()
	return c
}
