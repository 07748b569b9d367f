package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"image-transformer/internal/model"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func solidImage(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	return encodePNG(t, imaging.New(w, h, c))
}

// gradientImage produces a non-flat image so lossy encoders actually
// have detail to throw away.
func gradientImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, black)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(x * 7 % 256),
				G: uint8(y * 5 % 256),
				B: uint8((x*3 + y*11) % 256),
				A: 255,
			})
		}
	}
	return encodePNG(t, img)
}

func pixelAt(t *testing.T, data []byte, x, y int) color.NRGBA {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestProcessEmptySpecReencodes(t *testing.T) {
	src := solidImage(t, 64, 48, red)

	res, err := New().Process(src, model.TransformationSpec{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Format != model.FormatPNG {
		t.Errorf("format = %q, want source format png", res.Format)
	}
	if res.Width != 64 || res.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", res.Width, res.Height)
	}
	if res.SizeBytes != int64(len(res.Bytes)) || res.SizeBytes == 0 {
		t.Errorf("size = %d for %d bytes", res.SizeBytes, len(res.Bytes))
	}
}

func TestProcessUnreadableSource(t *testing.T) {
	_, err := New().Process([]byte("definitely not an image"), model.TransformationSpec{})
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("err = %v, want ErrSourceUnreadable", err)
	}
}

func TestProcessCropRunsBeforeResize(t *testing.T) {
	// The crop rectangle fits the 1000x800 source but would exceed a
	// 250x200 image, so this only succeeds when crop runs first.
	src := solidImage(t, 1000, 800, red)

	res, err := New().Process(src, model.TransformationSpec{
		Crop:   &model.CropSpec{X: 400, Y: 300, Width: 500, Height: 400},
		Resize: &model.ResizeSpec{Width: 250, Height: 200},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 250 || res.Height != 200 {
		t.Errorf("dimensions = %dx%d, want 250x200", res.Width, res.Height)
	}
}

func TestProcessCropUsesSourcePixelSpace(t *testing.T) {
	img := imaging.New(100, 100, red)
	for y := 0; y < 100; y++ {
		for x := 50; x < 100; x++ {
			img.Set(x, y, blue)
		}
	}
	src := encodePNG(t, img)

	res, err := New().Process(src, model.TransformationSpec{
		Crop:   &model.CropSpec{X: 50, Y: 0, Width: 50, Height: 100},
		Format: model.FormatPNG,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 50 || res.Height != 100 {
		t.Fatalf("dimensions = %dx%d, want 50x100", res.Width, res.Height)
	}
	if got := pixelAt(t, res.Bytes, 10, 50); got != blue {
		t.Errorf("pixel (10,50) = %v, want blue half of the source", got)
	}
}

func TestProcessCropOutsideBoundsFails(t *testing.T) {
	src := solidImage(t, 100, 100, red)

	_, err := New().Process(src, model.TransformationSpec{
		Crop: &model.CropSpec{X: 50, Y: 50, Width: 100, Height: 100},
	})
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("err = %v, want ErrProcessingFailed", err)
	}
}

func TestProcessResizeFitPolicies(t *testing.T) {
	src := solidImage(t, 1000, 800, red)

	tests := []struct {
		fit   string
		wantW int
		wantH int
	}{
		{model.FitCover, 500, 500},
		{model.FitFill, 500, 500},
		{model.FitContain, 500, 500},
		{model.FitInside, 500, 400},
		{model.FitOutside, 625, 500},
	}
	for _, tt := range tests {
		t.Run(tt.fit, func(t *testing.T) {
			res, err := New().Process(src, model.TransformationSpec{
				Resize: &model.ResizeSpec{Width: 500, Height: 500, Fit: tt.fit},
			})
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.Width != tt.wantW || res.Height != tt.wantH {
				t.Errorf("dimensions = %dx%d, want %dx%d", res.Width, res.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestProcessResizeSingleDimensionKeepsAspect(t *testing.T) {
	src := solidImage(t, 1000, 800, red)

	res, err := New().Process(src, model.TransformationSpec{
		Resize: &model.ResizeSpec{Width: 500},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 500 || res.Height != 400 {
		t.Errorf("dimensions = %dx%d, want 500x400", res.Width, res.Height)
	}
}

func TestProcessResizeWithoutEnlargement(t *testing.T) {
	src := solidImage(t, 100, 80, red)

	tests := []struct {
		name  string
		spec  model.ResizeSpec
		wantW int
		wantH int
	}{
		{"inside upscale blocked", model.ResizeSpec{Width: 200, Height: 160, Fit: model.FitInside, WithoutEnlargement: true}, 100, 80},
		{"single dim upscale blocked", model.ResizeSpec{Width: 200, WithoutEnlargement: true}, 100, 80},
		{"cover upscale blocked", model.ResizeSpec{Width: 200, Height: 160, WithoutEnlargement: true}, 100, 80},
		{"downscale still works", model.ResizeSpec{Width: 50, Height: 40, Fit: model.FitInside, WithoutEnlargement: true}, 50, 40},
		{"upscale allowed without flag", model.ResizeSpec{Width: 200, Height: 160, Fit: model.FitInside}, 200, 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New().Process(src, model.TransformationSpec{Resize: &tt.spec})
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.Width != tt.wantW || res.Height != tt.wantH {
				t.Errorf("dimensions = %dx%d, want %dx%d", res.Width, res.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestProcessRotateRightAngles(t *testing.T) {
	src := solidImage(t, 300, 200, red)

	for _, tt := range []struct {
		deg   int
		wantW int
		wantH int
	}{
		{90, 200, 300},
		{180, 300, 200},
		{270, 200, 300},
		{-90, 200, 300},
		{360, 300, 200},
	} {
		res, err := New().Process(src, model.TransformationSpec{Rotate: tt.deg})
		if err != nil {
			t.Fatalf("Process(rotate %d): %v", tt.deg, err)
		}
		if res.Width != tt.wantW || res.Height != tt.wantH {
			t.Errorf("rotate %d: dimensions = %dx%d, want %dx%d", tt.deg, res.Width, res.Height, tt.wantW, tt.wantH)
		}
	}
}

func TestProcessRotateIsClockwise(t *testing.T) {
	// Top band green, rest red. After a 90 degree clockwise turn the
	// green band sits along the right edge.
	img := imaging.New(100, 60, red)
	for y := 0; y < 10; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, green)
		}
	}
	src := encodePNG(t, img)

	res, err := New().Process(src, model.TransformationSpec{Rotate: 90, Format: model.FormatPNG})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 60 || res.Height != 100 {
		t.Fatalf("dimensions = %dx%d, want 60x100", res.Width, res.Height)
	}
	if got := pixelAt(t, res.Bytes, 55, 50); got != green {
		t.Errorf("right edge pixel = %v, want green", got)
	}
	if got := pixelAt(t, res.Bytes, 5, 50); got != red {
		t.Errorf("left edge pixel = %v, want red", got)
	}
}

func TestProcessRotateArbitraryAngleGrowsCanvas(t *testing.T) {
	src := solidImage(t, 300, 200, red)

	res, err := New().Process(src, model.TransformationSpec{Rotate: 45})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width <= 300 || res.Height <= 200 {
		t.Errorf("dimensions = %dx%d, want larger than 300x200", res.Width, res.Height)
	}
}

func TestProcessFlipAndFlop(t *testing.T) {
	// Top-left quadrant green, everything else red.
	img := imaging.New(100, 100, red)
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, green)
		}
	}
	src := encodePNG(t, img)

	flipped, err := New().Process(src, model.TransformationSpec{Flip: true, Format: model.FormatPNG})
	if err != nil {
		t.Fatalf("Process(flip): %v", err)
	}
	if got := pixelAt(t, flipped.Bytes, 25, 75); got != green {
		t.Errorf("flip: pixel (25,75) = %v, want green (mirrored vertically)", got)
	}

	flopped, err := New().Process(src, model.TransformationSpec{Flop: true, Format: model.FormatPNG})
	if err != nil {
		t.Fatalf("Process(flop): %v", err)
	}
	if got := pixelAt(t, flopped.Bytes, 75, 25); got != green {
		t.Errorf("flop: pixel (75,25) = %v, want green (mirrored horizontally)", got)
	}
}

func TestProcessGrayscale(t *testing.T) {
	src := solidImage(t, 50, 50, color.NRGBA{R: 180, G: 40, B: 90, A: 255})

	res, err := New().Process(src, model.TransformationSpec{
		Filters: &model.FilterSpec{Grayscale: true},
		Format:  model.FormatPNG,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	px := pixelAt(t, res.Bytes, 25, 25)
	if px.R != px.G || px.G != px.B {
		t.Errorf("pixel = %v, want equal channels after grayscale", px)
	}
}

func TestProcessNegate(t *testing.T) {
	src := solidImage(t, 50, 50, black)

	res, err := New().Process(src, model.TransformationSpec{
		Filters: &model.FilterSpec{Negate: true},
		Format:  model.FormatPNG,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := pixelAt(t, res.Bytes, 25, 25); got != white {
		t.Errorf("pixel = %v, want white after negating black", got)
	}
}

func TestProcessWatermark(t *testing.T) {
	src := solidImage(t, 400, 200, white)

	res, err := New().Process(src, model.TransformationSpec{
		Watermark: &model.WatermarkSpec{Text: "sample"},
		Format:    model.FormatPNG,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Width != 400 || res.Height != 200 {
		t.Fatalf("dimensions = %dx%d, watermark must not resize", res.Width, res.Height)
	}

	// The badge lands in the bottom-right quadrant; at least some of
	// those pixels must no longer be white.
	out, err := imaging.Decode(bytes.NewReader(res.Bytes))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	touched := 0
	for y := 100; y < 200; y++ {
		for x := 200; x < 400; x++ {
			if color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA) != white {
				touched++
			}
		}
	}
	if touched == 0 {
		t.Error("no pixels changed in the bottom-right quadrant")
	}

	// Top-left quadrant stays untouched.
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			if got := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA); got != white {
				t.Fatalf("pixel (%d,%d) = %v, want untouched white", x, y, got)
			}
		}
	}
}

func TestProcessWebPOutputFallsBackToJPEG(t *testing.T) {
	src := solidImage(t, 50, 50, red)

	res, err := New().Process(src, model.TransformationSpec{Format: model.FormatWebP})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Format != model.FormatJPEG {
		t.Errorf("format = %q, want jpeg fallback", res.Format)
	}
	_, sniffed, err := image.DecodeConfig(bytes.NewReader(res.Bytes))
	if err != nil || sniffed != "jpeg" {
		t.Errorf("output container = %q (%v), want jpeg", sniffed, err)
	}
}

func TestProcessCompressShrinksOutput(t *testing.T) {
	src := gradientImage(t, 300, 300)

	plain, err := New().Process(src, model.TransformationSpec{Format: model.FormatJPEG})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	compressed, err := New().Process(src, model.TransformationSpec{Format: model.FormatJPEG, Compress: true})
	if err != nil {
		t.Fatalf("Process(compress): %v", err)
	}
	if len(compressed.Bytes) >= len(plain.Bytes) {
		t.Errorf("compressed %d bytes, plain %d bytes", len(compressed.Bytes), len(plain.Bytes))
	}
}

func TestProcessExplicitQualityWins(t *testing.T) {
	src := gradientImage(t, 300, 300)

	low, err := New().Process(src, model.TransformationSpec{Format: model.FormatJPEG, Quality: 10})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	high, err := New().Process(src, model.TransformationSpec{Format: model.FormatJPEG, Quality: 95})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(low.Bytes) >= len(high.Bytes) {
		t.Errorf("quality 10 gave %d bytes, quality 95 gave %d", len(low.Bytes), len(high.Bytes))
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	src := gradientImage(t, 120, 90)
	spec := model.TransformationSpec{
		Resize:  &model.ResizeSpec{Width: 60, Height: 45},
		Rotate:  180,
		Filters: &model.FilterSpec{Grayscale: true, Blur: 1.2},
		Format:  model.FormatPNG,
	}

	first, err := New().Process(src, spec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	second, err := New().Process(src, spec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(first.Bytes, second.Bytes) {
		t.Error("same source and spec produced different bytes")
	}
}
