//go:build !linux && !darwin && !freebsd

package main

import "errors"

func redirectStdin(fd int) error {
	return errors.New("reading commands from a script is not supported on this platform")
}
