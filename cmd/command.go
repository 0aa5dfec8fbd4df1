// Package cmd provides common command line tools for the acmerenew binaries.
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// FailOnError logs msg and err and exits when err is not nil.
func FailOnError(log logrus.FieldLogger, err error, msg string) {
	// If there wasn't an error, return
	if err == nil {
		return
	}

	// Otherwise, print the error and fail
	log.Fatalf("[!] %s - %s", msg, err)
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals waits for SIGTERM, SIGINT or SIGHUP and executes a callback
// method. A second signal exits immediately.
func CatchSignals(log logrus.FieldLogger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGHUP)

	sig := <-sigChan
	log.Infof("Caught %s, shutting down", signalToName[sig])

	if callback != nil {
		callback()
	}

	sig = <-sigChan
	log.Warnf("Caught %s again, exiting", signalToName[sig])
	os.Exit(1)
}
