// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are engine and registry messages that indicate a failure
// unrelated to the recipe itself.
var transientMarkers = []string{
	// Rootless Podman races and OCI runtime hiccups.
	"ping_group_range",
	"OCI runtime error",
	// Name resolution and connectivity, from pulls or package downloads.
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"connection reset by peer",
	"i/o timeout",
	"TLS handshake timeout",
	// Registry throttling and outages.
	"toomanyrequests",
	"503 Service Unavailable",
	"502 Bad Gateway",
	// Overlay storage races.
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a container engine error that may
// succeed on retry: network timeouts, registry throttling, storage driver
// races, and generic engine failures (exit code 125).
//
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
