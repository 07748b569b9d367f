package processor

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"image-transformer/internal/model"
)

// applyFilters runs the requested tonal adjustments. Like the outer
// pipeline, the sub-order is fixed: grayscale, sepia, blur, sharpen,
// negate, normalize, gamma, brightness, saturation, hue.
func applyFilters(img image.Image, f model.FilterSpec) image.Image {
	if f.Grayscale {
		img = imaging.Grayscale(img)
	}
	if f.Sepia {
		img = sepia(img)
	}
	if f.Blur > 0 {
		img = imaging.Blur(img, f.Blur)
	}
	if f.Sharpen > 0 {
		img = imaging.Sharpen(img, f.Sharpen)
	}
	if f.Negate {
		img = imaging.Invert(img)
	}
	if f.Normalize {
		img = normalize(img)
	}
	if f.Gamma > 0 && f.Gamma != 1 {
		img = imaging.AdjustGamma(img, f.Gamma)
	}
	if f.Brightness != 0 {
		img = imaging.AdjustBrightness(img, f.Brightness)
	}
	if f.Saturation != 0 {
		img = imaging.AdjustSaturation(img, f.Saturation)
	}
	if f.Hue != 0 {
		img = hueRotate(img, f.Hue)
	}
	return img
}

// sepia desaturates and applies a warm tint.
func sepia(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := float64(c.R) // after Grayscale, R == G == B
		return color.NRGBA{
			R: clamp8(v * 1.1),
			G: clamp8(v * 0.9),
			B: clamp8(v * 0.7),
			A: c.A,
		}
	})
}

// normalize stretches the luminance range to full contrast.
func normalize(img image.Image) image.Image {
	src := imaging.Clone(img)

	lo, hi := 255, 0
	for i := 0; i < len(src.Pix); i += 4 {
		lum := (299*int(src.Pix[i]) + 587*int(src.Pix[i+1]) + 114*int(src.Pix[i+2])) / 1000
		if lum < lo {
			lo = lum
		}
		if lum > hi {
			hi = lum
		}
	}
	if hi <= lo {
		return img
	}

	scale := 255.0 / float64(hi-lo)
	stretch := func(v uint8) uint8 {
		return clamp8((float64(v) - float64(lo)) * scale)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}

// hueRotate shifts every pixel's hue by the given degrees.
func hueRotate(img image.Image, degrees int) image.Image {
	shift := float64(degrees)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		h, s, l := rgbToHSL(c.R, c.G, c.B)
		h = math.Mod(h+shift, 360)
		if h < 0 {
			h += 360
		}
		r, g, b := hslToRGB(h, s, l)
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
}

func rgbToHSL(r8, g8, b8 uint8) (h, s, l float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2

	if max == min {
		return 0, 0, l
	}

	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h *= 60
	return h, s, l
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := clamp8(l * 255)
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := h / 360

	r := hueToChannel(p, q, hk+1.0/3)
	g := hueToChannel(p, q, hk)
	b := hueToChannel(p, q, hk-1.0/3)
	return clamp8(r * 255), clamp8(g * 255), clamp8(b * 255)
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
