package fingerprint

import (
	"errors"
	"fmt"
)

var (
	ErrPeakOutOfRange = errors.New("fingerprint: peak out of range")
	ErrBandCount      = errors.New("fingerprint: peak count does not match band table")
	ErrWindowSize     = errors.New("fingerprint: window length does not match engine window size")
)

// ConfigError reports an engine configuration that cannot be used.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fingerprint: invalid %s: %s", e.Field, e.Reason)
}
