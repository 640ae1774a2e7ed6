// ABOUTME: Icon system with Nerd Font detection and Unicode fallback
// ABOUTME: Provides session and status iconography across terminal capabilities

package icons

import (
	"os"
	"strings"
	"sync"
)

// nerdTerminals are TERM_PROGRAM or TERM fragments of terminals usually set
// up with a patched font
var nerdTerminals = []string{"iterm", "alacritty", "wezterm", "kitty", "ghostty"}

// detectNerdFonts reads PORTAL_NERD_FONTS or NERD_FONTS, then sniffs the terminal
func detectNerdFonts() bool {
	for _, key := range []string{"PORTAL_NERD_FONTS", "NERD_FONTS"} {
		if v := strings.ToLower(os.Getenv(key)); v != "" {
			return v == "1" || v == "true" || v == "yes"
		}
	}

	probe := strings.ToLower(os.Getenv("TERM_PROGRAM") + " " + os.Getenv("TERM"))
	for _, t := range nerdTerminals {
		if strings.Contains(probe, t) {
			return true
		}
	}
	return false
}

// HasNerdFonts reports whether Nerd Font glyphs are used. Detected once.
var HasNerdFonts = sync.OnceValue(detectNerdFonts)

// Icon is a glyph with a plain Unicode stand-in
type Icon struct {
	NerdFont string
	Fallback string
}

func (i Icon) String() string {
	if HasNerdFonts() {
		return i.NerdFont
	}
	return i.Fallback
}

var (
	// Session
	Locked   = Icon{"󰌾", "○"}
	Unlocked = Icon{"󰿆", "●"}
	Key      = Icon{"󰌆", "◇"}
	Refresh  = Icon{"󰑓", "↻"}
	Clock    = Icon{"󰥔", "◷"}

	// Status
	CheckOK  = Icon{"\uf058", "✓"}
	Warning  = Icon{"\uf071", "⚠"}
	Critical = Icon{"\uf057", "✗"}
	Info     = Icon{"\uf05a", "ℹ"}
)
