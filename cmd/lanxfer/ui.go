package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mdp/qrterminal/v3"

	"lanxfer/internal/config"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#2563eb", Dark: "#9ecbff"}
	muted  = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	urlStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#4ade80"})
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f87171"})
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 2)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(muted)
	tableBorder = lipgloss.NormalBorder()
)

func banner(baseURL, root string, cfg config.Config) string {
	limit := "unlimited"
	if cfg.MaxUploadBytes > 0 {
		limit = humanize.IBytes(uint64(cfg.MaxUploadBytes))
	}
	lines := []string{
		titleStyle.Render("lanxfer is running"),
		"",
		"Open on any device in this network:",
		urlStyle.Render(baseURL),
		"",
		mutedStyle.Render(fmt.Sprintf("folder   %s", root)),
		mutedStyle.Render(fmt.Sprintf("limit    %s per file", limit)),
	}
	if cfg.WebDAV {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("webdav   %s/dav/ (read-only)", baseURL)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// Half-block glyphs: two QR rows per terminal line.
const (
	blackBlack = " "
	whiteBlack = "▀"
	whiteWhite = "█"
	blackWhite = "▄"
)

func printQR(w io.Writer, url string) {
	fmt.Fprintln(w, mutedStyle.Render("Scan to open:"))
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      blackBlack,
		WhiteBlackChar: whiteBlack,
		WhiteChar:      whiteWhite,
		BlackWhiteChar: blackWhite,
		QuietZone:      1,
	})
}
