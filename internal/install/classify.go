// SPDX-License-Identifier: MPL-2.0

package install

import (
	"context"
	"errors"
	"strings"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/shell"
)

// transientMarkers are output fragments from apt, apk and pip that indicate a
// failure unrelated to the package itself: name resolution, unreachable or
// overloaded mirrors, and package database lock contention.
var transientMarkers = []string{
	"Temporary failure resolving",
	"Could not resolve host",
	"Could not resolve",
	"Could not connect to",
	"Connection timed out",
	"connection timed out",
	"Connection refused",
	"connection refused",
	"Failed to fetch",
	"Hash Sum mismatch",
	"Could not get lock",
	"Unable to acquire the dpkg frontend lock",
	"temporary error (try again later)",
	"DNS lookup error",
	"network error",
	"Max retries exceeded",
	"ReadTimeoutError",
	"ConnectTimeoutError",
	"NewConnectionError",
	"HTTP error 502",
	"HTTP error 503",
	"HTTP error 504",
	"502 Bad Gateway",
	"503 Service Unavailable",
}

// IsTransientOutput reports whether command output matches a known
// transient failure.
func IsTransientOutput(output string) bool {
	for _, m := range transientMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// Classify converts a failed package-manager command into a fault: transient
// output yields PackageUnavailable, anything else InstallFailed. Context
// cancellation passes through unclassified.
func Classify(resource string, res shell.Result, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsTransientOutput(res.Stderr) || IsTransientOutput(res.Stdout) || IsTransientOutput(err.Error()) {
		return fault.New(fault.KindPackageUnavailable, resource, err)
	}
	return fault.New(fault.KindInstallFailed, resource, err)
}
