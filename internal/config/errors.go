package config

import "errors"

// ErrArgument marks a fatal, startup-time CLI argument error (§7 ArgumentError).
var ErrArgument = errors.New("argument error")
