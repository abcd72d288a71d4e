//go:build windows

package process

import "os"

// Windows has no deliverable SIGTERM; the grace period still applies to
// keep the lifecycle identical.
var terminateSignal os.Signal = os.Kill
