package processor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// The Go fonts are compiled in, so watermarking never depends on font
// files being present on the host.
var (
	fontMu      sync.Mutex
	parsedFonts = map[string]*truetype.Font{}
)

// loadFace returns a font face for the requested family and size. Family
// matching is loose: any name containing "bold", "italic" or "mono" maps
// to that variant, everything else to the regular face.
func loadFace(family string, size float64) (font.Face, error) {
	ttf, name := fontBytes(family)

	fontMu.Lock()
	defer fontMu.Unlock()

	f, ok := parsedFonts[name]
	if !ok {
		var err error
		f, err = truetype.Parse(ttf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s font: %w", name, err)
		}
		parsedFonts[name] = f
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

func fontBytes(family string) ([]byte, string) {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "bold"):
		return gobold.TTF, "bold"
	case strings.Contains(f, "italic"), strings.Contains(f, "oblique"):
		return goitalic.TTF, "italic"
	case strings.Contains(f, "mono"):
		return gomono.TTF, "mono"
	default:
		return goregular.TTF, "regular"
	}
}
