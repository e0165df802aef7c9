package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme for terminal log output.
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Highlight *pterm.Style
	Muted     *pterm.Style
	Host      *pterm.Style
	Counts    pterm.Color

	// Connection state colours
	ConnUp   pterm.Color
	ConnDown pterm.Color
}

// Default returns the default theme.
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Host:      pterm.NewStyle(pterm.FgMagenta),
		Counts:    pterm.FgLightCyan,

		ConnUp:   pterm.FgGreen,
		ConnDown: pterm.FgRed,
	}
}

// Dark returns a variant tuned for dark terminals.
func Dark() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Muted = pterm.NewStyle(pterm.FgDarkGray)
	t.Host = pterm.NewStyle(pterm.FgLightMagenta)
	return t
}

// GetTheme returns the theme for a configured name.
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}

// ColourSplash colours the startup banner.
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion colours version numbers in the banner.
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl colours URLs.
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink creates an OSC 8 terminal hyperlink.
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\x1b[0m"
}
