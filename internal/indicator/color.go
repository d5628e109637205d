package indicator

import (
	"fmt"

	"github.com/muurk/devboot/internal/status"
)

// Color is an RGB triple as written to the LED.
type Color struct {
	R, G, B uint8
}

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

var (
	Off        = Color{}
	Red        = Color{R: 255}
	Green      = Color{G: 255}
	Blue       = Color{B: 255}
	DarkOrange = Color{R: 255, G: 140}
)

// ColorFor maps the shared status to the indicator color. An upgrade in
// progress wins over everything; otherwise a ready network shows green in
// client mode and blue in access point mode, and anything else is red.
func ColorFor(s status.Snapshot) Color {
	switch {
	case s.FirmwareUpgradeInProgress:
		return DarkOrange
	case s.NetworkReady && s.ClientMode:
		return Green
	case s.NetworkReady:
		return Blue
	default:
		return Red
	}
}

// Describe names the condition a color stands for.
func Describe(c Color) string {
	switch c {
	case DarkOrange:
		return "firmware upgrade"
	case Green:
		return "client connected"
	case Blue:
		return "access point"
	case Red:
		return "network offline"
	case Off:
		return "off"
	default:
		return c.Hex()
	}
}
