// Package console renders watch sessions on a terminal.
//
// Every run gets a cyan header naming its trigger and a yellow timestamp
// banner. Outcomes, killed runs and aborts are printed as centered,
// coloured lines sized to the terminal width.
package console

import (
	"io"
	"strings"
)

// DefaultWidth is used when the terminal width cannot be detected.
const DefaultWidth = 80

// TimestampFormat is the layout of the banner printed before each spawn.
const TimestampFormat = "2006-01-02 15:04:05.000000"

// ColorMode selects when ANSI colours are emitted.
type ColorMode string

const (
	// ColorAuto colours output only when it goes to a terminal.
	ColorAuto ColorMode = "auto"

	// ColorAlways forces ANSI colours.
	ColorAlways ColorMode = "always"

	// ColorNever disables colours.
	ColorNever ColorMode = "never"
)

// ParseColorMode converts a configuration value. An empty string means
// ColorAuto.
func ParseColorMode(s string) (ColorMode, error) {
	switch mode := ColorMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return mode, nil
	default:
		return "", ErrInvalidColorMode
	}
}

// Config contains console configuration.
type Config struct {
	// Out receives all output.
	// Default: os.Stdout.
	Out io.Writer

	// Color selects colour handling.
	// Default: ColorAuto.
	Color ColorMode

	// Width fixes the line width. Zero detects it on every print.
	Width int
}
