package model

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		spec      TransformationSpec
		wantField string // empty means the spec must be accepted
	}{
		{
			name: "empty spec is a plain re-encode",
			spec: TransformationSpec{},
		},
		{
			name: "full valid spec",
			spec: TransformationSpec{
				Resize:    &ResizeSpec{Width: 800, Height: 600, Fit: FitCover, Position: PositionTop},
				Crop:      &CropSpec{X: 10, Y: 10, Width: 100, Height: 100},
				Rotate:    270,
				Filters:   &FilterSpec{Grayscale: true, Blur: 1.5, Gamma: 2.2},
				Watermark: &WatermarkSpec{Text: "demo", FontColor: "#fff", Position: PositionBottomLeft},
				Format:    "JPG",
				Quality:   90,
			},
		},
		{
			name:      "resize without dimensions",
			spec:      TransformationSpec{Resize: &ResizeSpec{Fit: FitCover}},
			wantField: "resize",
		},
		{
			name:      "negative resize width",
			spec:      TransformationSpec{Resize: &ResizeSpec{Width: -1, Height: 10}},
			wantField: "resize.width",
		},
		{
			name:      "unknown fit",
			spec:      TransformationSpec{Resize: &ResizeSpec{Width: 10, Fit: "stretch"}},
			wantField: "resize.fit",
		},
		{
			name:      "unknown resize position",
			spec:      TransformationSpec{Resize: &ResizeSpec{Width: 10, Position: "middle"}},
			wantField: "resize.position",
		},
		{
			name:      "crop with zero width",
			spec:      TransformationSpec{Crop: &CropSpec{Width: 0, Height: 10}},
			wantField: "crop",
		},
		{
			name:      "crop with negative origin",
			spec:      TransformationSpec{Crop: &CropSpec{X: -5, Width: 10, Height: 10}},
			wantField: "crop",
		},
		{
			name:      "negative blur",
			spec:      TransformationSpec{Filters: &FilterSpec{Blur: -0.5}},
			wantField: "filters.blur",
		},
		{
			name:      "brightness out of range",
			spec:      TransformationSpec{Filters: &FilterSpec{Brightness: 150}},
			wantField: "filters.brightness",
		},
		{
			name:      "watermark without text",
			spec:      TransformationSpec{Watermark: &WatermarkSpec{Text: "   "}},
			wantField: "watermark.text",
		},
		{
			name:      "watermark with bad color",
			spec:      TransformationSpec{Watermark: &WatermarkSpec{Text: "x", FontColor: "red"}},
			wantField: "watermark.fontColor",
		},
		{
			name:      "watermark with short hex",
			spec:      TransformationSpec{Watermark: &WatermarkSpec{Text: "x", BackgroundColor: "#ab"}},
			wantField: "watermark.backgroundColor",
		},
		{
			name:      "unsupported format",
			spec:      TransformationSpec{Format: "avif"},
			wantField: "format",
		},
		{
			name:      "quality above 100",
			spec:      TransformationSpec{Quality: 101},
			wantField: "quality",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("rejected field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"jpeg", FormatJPEG, true},
		{"jpg", FormatJPEG, true},
		{"JPG", FormatJPEG, true},
		{".png", FormatPNG, true},
		{"tif", FormatTIFF, true},
		{"webp", FormatWebP, true},
		{"heic", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeFormat(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor(FormatPNG); got != "image/png" {
		t.Errorf("ContentTypeFor(png) = %q", got)
	}
	if got := ContentTypeFor("unknown"); got != "application/octet-stream" {
		t.Errorf("ContentTypeFor(unknown) = %q", got)
	}
}
