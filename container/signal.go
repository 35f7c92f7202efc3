package container

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

// maxSignal is the highest real-time signal on Linux.
const maxSignal = 64

// ParseSignal parses a signal given as a number, a name such as "SIGTERM",
// or a name without the prefix such as "term".
func ParseSignal(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > maxSignal {
			return 0, rterrors.New(rterrors.ErrInvalidValue, "signal", fmt.Sprintf("unknown signal %q", s))
		}
		return unix.Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, rterrors.New(rterrors.ErrInvalidValue, "signal", fmt.Sprintf("unknown signal %q", s))
	}
	return sig, nil
}
