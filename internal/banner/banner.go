package banner

import (
	"github.com/charmbracelet/lipgloss"

	"rampcheck/internal/tui/styles"
)

const ascii = `
 ┬─┐┌─┐┌┬┐┌─┐┌─┐┬ ┬┌─┐┌─┐┬┌─
 ├┬┘├─┤│││├─┘│  ├─┤├┤ │  ├┴┐
 ┴└─┴ ┴┴ ┴┴  └─┘┴ ┴└─┘└─┘┴ ┴`

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorPrimary).
		Bold(true)
	tagline := renderer.NewStyle().Foreground(styles.ColorSubtle).
		Render("  ramp load, watch the circuit breakers")

	return "\n" + style.Render(ascii) + "\n" + tagline + "\n"
}
