package processor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"image-transformer/internal/model"
)

// crop extracts the requested rectangle. The rectangle must lie fully
// inside the source bounds.
func crop(img image.Image, c model.CropSpec) (image.Image, error) {
	bounds := img.Bounds()
	rect := image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
	if !rect.In(bounds) {
		return nil, fmt.Errorf("crop %dx%d at (%d,%d) exceeds source bounds %dx%d",
			c.Width, c.Height, c.X, c.Y, bounds.Dx(), bounds.Dy())
	}
	return imaging.Crop(img, rect), nil
}

// resize scales the image according to the fit policy. With only one
// dimension given the aspect ratio is preserved and fit is ignored.
func resize(img image.Image, r model.ResizeSpec) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	if r.Width == 0 {
		if r.WithoutEnlargement && r.Height > srcH {
			return img
		}
		return imaging.Resize(img, 0, r.Height, imaging.Lanczos)
	}
	if r.Height == 0 {
		if r.WithoutEnlargement && r.Width > srcW {
			return img
		}
		return imaging.Resize(img, r.Width, 0, imaging.Lanczos)
	}

	fit := r.Fit
	if fit == "" {
		fit = model.FitCover
	}

	switch fit {
	case model.FitCover:
		if r.WithoutEnlargement && (r.Width > srcW || r.Height > srcH) {
			return img
		}
		return imaging.Fill(img, r.Width, r.Height, anchorOf(r.Position), imaging.Lanczos)

	case model.FitFill:
		if r.WithoutEnlargement && (r.Width > srcW || r.Height > srcH) {
			return img
		}
		return imaging.Resize(img, r.Width, r.Height, imaging.Lanczos)

	case model.FitContain:
		scaled := scaleToBox(img, srcW, srcH, r.Width, r.Height, false, r.WithoutEnlargement)
		// Letterbox onto a transparent canvas of the exact box size.
		canvas := imaging.New(r.Width, r.Height, color.NRGBA{})
		return imaging.PasteCenter(canvas, scaled)

	case model.FitInside:
		return scaleToBox(img, srcW, srcH, r.Width, r.Height, false, r.WithoutEnlargement)

	case model.FitOutside:
		return scaleToBox(img, srcW, srcH, r.Width, r.Height, true, r.WithoutEnlargement)

	default:
		return imaging.Fill(img, r.Width, r.Height, anchorOf(r.Position), imaging.Lanczos)
	}
}

// scaleToBox resizes preserving aspect ratio so the result touches the
// box from inside (scale by the smaller ratio) or outside (the larger).
func scaleToBox(img image.Image, srcW, srcH, boxW, boxH int, outside, withoutEnlargement bool) image.Image {
	rw := float64(boxW) / float64(srcW)
	rh := float64(boxH) / float64(srcH)

	scale := math.Min(rw, rh)
	if outside {
		scale = math.Max(rw, rh)
	}
	if scale == 1 || (scale > 1 && withoutEnlargement) {
		return img
	}

	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// rotate turns the image clockwise by the given degrees. Right angles use
// the lossless paths; anything else rotates onto a transparent background.
func rotate(img image.Image, degrees int) image.Image {
	d := degrees % 360
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		// imaging rotates counter-clockwise for positive angles.
		return imaging.Rotate(img, -float64(d), color.NRGBA{})
	}
}

// anchorOf maps a position name to an imaging anchor, defaulting to center.
func anchorOf(position string) imaging.Anchor {
	switch position {
	case model.PositionTop:
		return imaging.Top
	case model.PositionBottom:
		return imaging.Bottom
	case model.PositionLeft:
		return imaging.Left
	case model.PositionRight:
		return imaging.Right
	case model.PositionTopLeft:
		return imaging.TopLeft
	case model.PositionTopRight:
		return imaging.TopRight
	case model.PositionBottomLeft:
		return imaging.BottomLeft
	case model.PositionBottomRight:
		return imaging.BottomRight
	default:
		return imaging.Center
	}
}
