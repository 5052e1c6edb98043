package console

import "errors"

// ErrInvalidColorMode is returned for unknown colour modes.
var ErrInvalidColorMode = errors.New("invalid color mode: must be auto, always or never")
