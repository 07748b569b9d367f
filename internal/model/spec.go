package model

import (
	"fmt"
	"strings"
)

// Supported output formats. Lowercase short names are the canonical form;
// "jpg" and "tif" are accepted as aliases.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatTIFF = "tiff"
	FormatBMP  = "bmp"
	FormatWebP = "webp"
)

// Resize fit policies. They mirror the usual CSS object-fit vocabulary:
// cover crops to fill the box, contain letterboxes, fill stretches,
// inside/outside scale to touch the box from within/without.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitFill    = "fill"
	FitInside  = "inside"
	FitOutside = "outside"
)

// Anchor positions used both for cover cropping and watermark placement.
const (
	PositionCenter      = "center"
	PositionTop         = "top"
	PositionBottom      = "bottom"
	PositionLeft        = "left"
	PositionRight       = "right"
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
)

// TransformationSpec is a declarative description of the edits to apply to
// an image. Every field is optional; the zero value means "re-encode only".
// Specs are treated as immutable once built: the worker and the cache key
// derivation both rely on the spec never changing after submission.
type TransformationSpec struct {
	Resize    *ResizeSpec    `json:"resize,omitempty"`
	Crop      *CropSpec      `json:"crop,omitempty"`
	Rotate    int            `json:"rotate,omitempty"` // degrees, clockwise
	Flip      bool           `json:"flip,omitempty"`   // vertical mirror
	Flop      bool           `json:"flop,omitempty"`   // horizontal mirror
	Filters   *FilterSpec    `json:"filters,omitempty"`
	Watermark *WatermarkSpec `json:"watermark,omitempty"`
	Format    string         `json:"format,omitempty"`
	Quality   int            `json:"quality,omitempty"` // 1..100, 0 = default
	Compress  bool           `json:"compress,omitempty"`
}

// ResizeSpec scales the image to the given box. Width or height may be
// omitted to preserve the aspect ratio.
type ResizeSpec struct {
	Width              int    `json:"width,omitempty"`
	Height             int    `json:"height,omitempty"`
	Fit                string `json:"fit,omitempty"`      // cover (default), contain, fill, inside, outside
	Position           string `json:"position,omitempty"` // crop anchor for cover
	WithoutEnlargement bool   `json:"withoutEnlargement,omitempty"`
}

// CropSpec extracts a rectangle given in source pixel coordinates.
type CropSpec struct {
	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// FilterSpec holds the tonal adjustments. Boolean filters toggle fixed
// effects; numeric ones are strengths with 0 meaning "not requested".
type FilterSpec struct {
	Grayscale  bool    `json:"grayscale,omitempty"`
	Sepia      bool    `json:"sepia,omitempty"`
	Blur       float64 `json:"blur,omitempty"`    // gaussian sigma
	Sharpen    float64 `json:"sharpen,omitempty"` // gaussian sigma
	Negate     bool    `json:"negate,omitempty"`
	Normalize  bool    `json:"normalize,omitempty"`
	Gamma      float64 `json:"gamma,omitempty"`      // 1.0 is neutral
	Brightness float64 `json:"brightness,omitempty"` // percent, -100..100
	Saturation float64 `json:"saturation,omitempty"` // percent, -100..100
	Hue        int     `json:"hue,omitempty"`        // rotation in degrees
}

// WatermarkSpec stamps a text badge onto the image.
type WatermarkSpec struct {
	Text            string `json:"text,omitempty"`
	FontSize        int    `json:"fontSize,omitempty"`
	FontFamily      string `json:"fontFamily,omitempty"`
	FontColor       string `json:"fontColor,omitempty"`       // hex, e.g. "#ffffff"
	BackgroundColor string `json:"backgroundColor,omitempty"` // hex, badge fill
	Padding         int    `json:"padding,omitempty"`
	Position        string `json:"position,omitempty"` // default bottom-right
}

// ValidationError describes a single rejected spec field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transformation spec: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

var validFits = map[string]bool{
	FitCover:   true,
	FitContain: true,
	FitFill:    true,
	FitInside:  true,
	FitOutside: true,
}

var validPositions = map[string]bool{
	PositionCenter:      true,
	PositionTop:         true,
	PositionBottom:      true,
	PositionLeft:        true,
	PositionRight:       true,
	PositionTopLeft:     true,
	PositionTopRight:    true,
	PositionBottomLeft:  true,
	PositionBottomRight: true,
}

// Validate checks the spec before it is enqueued or executed. The worker
// never sees a spec that has not passed this check, except for messages
// published by older producers, which it re-validates on receipt.
func (s *TransformationSpec) Validate() error {
	if s.Resize != nil {
		if err := s.Resize.validate(); err != nil {
			return err
		}
	}
	if s.Crop != nil {
		if err := s.Crop.validate(); err != nil {
			return err
		}
	}
	if s.Filters != nil {
		if err := s.Filters.validate(); err != nil {
			return err
		}
	}
	if s.Watermark != nil {
		if err := s.Watermark.validate(); err != nil {
			return err
		}
	}
	if s.Format != "" {
		if _, ok := NormalizeFormat(s.Format); !ok {
			return invalid("format", fmt.Sprintf("unsupported format %q", s.Format))
		}
	}
	if s.Quality < 0 || s.Quality > 100 {
		return invalid("quality", "must be between 1 and 100")
	}
	return nil
}

func (r *ResizeSpec) validate() error {
	if r.Width < 0 {
		return invalid("resize.width", "must not be negative")
	}
	if r.Height < 0 {
		return invalid("resize.height", "must not be negative")
	}
	if r.Width == 0 && r.Height == 0 {
		return invalid("resize", "width or height is required")
	}
	if r.Fit != "" && !validFits[r.Fit] {
		return invalid("resize.fit", fmt.Sprintf("unknown fit %q", r.Fit))
	}
	if r.Position != "" && !validPositions[r.Position] {
		return invalid("resize.position", fmt.Sprintf("unknown position %q", r.Position))
	}
	return nil
}

func (c *CropSpec) validate() error {
	if c.X < 0 || c.Y < 0 {
		return invalid("crop", "origin must not be negative")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return invalid("crop", "width and height must be positive")
	}
	return nil
}

func (f *FilterSpec) validate() error {
	if f.Blur < 0 {
		return invalid("filters.blur", "must not be negative")
	}
	if f.Sharpen < 0 {
		return invalid("filters.sharpen", "must not be negative")
	}
	if f.Gamma < 0 {
		return invalid("filters.gamma", "must not be negative")
	}
	if f.Brightness < -100 || f.Brightness > 100 {
		return invalid("filters.brightness", "must be between -100 and 100")
	}
	if f.Saturation < -100 || f.Saturation > 100 {
		return invalid("filters.saturation", "must be between -100 and 100")
	}
	return nil
}

func (w *WatermarkSpec) validate() error {
	if strings.TrimSpace(w.Text) == "" {
		return invalid("watermark.text", "is required")
	}
	if w.FontSize < 0 {
		return invalid("watermark.fontSize", "must not be negative")
	}
	if w.Padding < 0 {
		return invalid("watermark.padding", "must not be negative")
	}
	if w.Position != "" && !validPositions[w.Position] {
		return invalid("watermark.position", fmt.Sprintf("unknown position %q", w.Position))
	}
	if err := validateHexColor("watermark.fontColor", w.FontColor); err != nil {
		return err
	}
	if err := validateHexColor("watermark.backgroundColor", w.BackgroundColor); err != nil {
		return err
	}
	return nil
}

func validateHexColor(field, v string) error {
	if v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "#") {
		return invalid(field, "must be a #-prefixed hex color")
	}
	digits := v[1:]
	switch len(digits) {
	case 3, 6, 8:
	default:
		return invalid(field, "must have 3, 6 or 8 hex digits")
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return invalid(field, fmt.Sprintf("bad hex digit %q", c))
		}
	}
	return nil
}

// NormalizeFormat lowercases a format name and folds aliases. The second
// return value reports whether the format is supported at all.
func NormalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case FormatJPEG, "jpg":
		return FormatJPEG, true
	case FormatPNG:
		return FormatPNG, true
	case FormatGIF:
		return FormatGIF, true
	case FormatTIFF, "tif":
		return FormatTIFF, true
	case FormatBMP:
		return FormatBMP, true
	case FormatWebP:
		return FormatWebP, true
	default:
		return "", false
	}
}

// ExtensionFor returns the conventional file extension for a normalized
// format.
func ExtensionFor(format string) string {
	switch format {
	case FormatJPEG:
		return "jpg"
	case FormatTIFF:
		return "tif"
	default:
		return format
	}
}

// ContentTypeFor maps a normalized format to its MIME type. Unknown
// formats fall back to a generic byte stream.
func ContentTypeFor(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
