package sccexec

import "errors"

// ErrEnvironment marks a fatal, startup-time missing-tool error (§7
// EnvironmentError): a required external tool could not be resolved in PATH.
var ErrEnvironment = errors.New("environment error")
