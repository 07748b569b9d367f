package processor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"image-transformer/internal/model"
)

const (
	defaultFontSize   = 24
	defaultPadding    = 12
	defaultFontColor  = "#ffffff"
	defaultBadgeColor = "#00000080" // translucent black
	badgeMargin       = 16
)

// watermark renders the text onto a rounded, semi-transparent badge and
// overlays it at the requested position, bottom-right when unset. The
// badge is sized from the text and padding, not from the image.
func watermark(img image.Image, wm model.WatermarkSpec) (image.Image, error) {
	fontSize := wm.FontSize
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}
	padding := wm.Padding
	if padding <= 0 {
		padding = defaultPadding
	}

	face, err := loadFace(wm.FontFamily, float64(fontSize))
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	// Measure the text to size the badge.
	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	tw, th := measure.MeasureString(wm.Text)

	bw := int(math.Ceil(tw)) + 2*padding
	bh := int(math.Ceil(th)) + 2*padding

	// Draw the badge on its own canvas.
	dc := gg.NewContext(bw, bh)
	dc.SetHexColor(colorOr(wm.BackgroundColor, defaultBadgeColor))
	dc.DrawRoundedRectangle(0, 0, float64(bw), float64(bh), float64(bh)/4)
	dc.Fill()

	dc.SetFontFace(face)
	dc.SetHexColor(colorOr(wm.FontColor, defaultFontColor))
	dc.DrawStringAnchored(wm.Text, float64(bw)/2, float64(bh)/2, 0.5, 0.5)

	badge := dc.Image()
	origin := badgeOrigin(img.Bounds(), badge.Bounds(), wm.Position)
	return imaging.Overlay(img, badge, origin, 1.0), nil
}

// badgeOrigin places the badge inside the image with a fixed margin.
func badgeOrigin(img, badge image.Rectangle, position string) image.Point {
	iw, ih := img.Dx(), img.Dy()
	bw, bh := badge.Dx(), badge.Dy()

	left := badgeMargin
	right := iw - bw - badgeMargin
	centerX := (iw - bw) / 2
	top := badgeMargin
	bottom := ih - bh - badgeMargin
	centerY := (ih - bh) / 2

	switch position {
	case model.PositionTopLeft:
		return image.Pt(left, top)
	case model.PositionTop:
		return image.Pt(centerX, top)
	case model.PositionTopRight:
		return image.Pt(right, top)
	case model.PositionLeft:
		return image.Pt(left, centerY)
	case model.PositionCenter:
		return image.Pt(centerX, centerY)
	case model.PositionRight:
		return image.Pt(right, centerY)
	case model.PositionBottomLeft:
		return image.Pt(left, bottom)
	case model.PositionBottom:
		return image.Pt(centerX, bottom)
	default:
		return image.Pt(right, bottom)
	}
}

func colorOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
