package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	// Register the webp decoder; imaging itself registers jpeg, png,
	// gif, tiff and bmp.
	_ "golang.org/x/image/webp"

	"image-transformer/internal/model"
)

var (
	// ErrSourceUnreadable means the input bytes are not a decodable image.
	ErrSourceUnreadable = errors.New("source image unreadable")
	// ErrProcessingFailed means a stage rejected the image, e.g. a crop
	// outside the source bounds. Retrying the same input cannot succeed.
	ErrProcessingFailed = errors.New("image processing failed")
)

const (
	// DefaultQuality is used when the spec sets no quality.
	DefaultQuality = 80
	// CompressQuality is the default when the spec asks for compression.
	CompressQuality = 60
)

// Result is the output of one pipeline run.
type Result struct {
	Bytes     []byte
	Format    string // normalized, may differ from the requested one
	Width     int
	Height    int
	SizeBytes int64
}

// Processor executes transformation specs against raw image bytes.
// Stages always run in the same order regardless of how the spec was
// written: crop, resize, rotate, flip, flop, filters, watermark, encode.
type Processor struct{}

// New creates a Processor.
func New() *Processor {
	return &Processor{}
}

// Process decodes the source, applies every stage requested by the spec
// and re-encodes. The source bytes are never modified.
func (p *Processor) Process(src []byte, spec model.TransformationSpec) (*Result, error) {
	// Sniff the container first so the source format survives decoding.
	_, srcFormat, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	// Crop runs before resize: its coordinates are defined in source
	// pixel space.
	if spec.Crop != nil {
		img, err = crop(img, *spec.Crop)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
		}
	}
	if spec.Resize != nil {
		img = resize(img, *spec.Resize)
	}
	if spec.Rotate != 0 {
		img = rotate(img, spec.Rotate)
	}
	if spec.Flip {
		img = imaging.FlipV(img)
	}
	if spec.Flop {
		img = imaging.FlipH(img)
	}
	if spec.Filters != nil {
		img = applyFilters(img, *spec.Filters)
	}
	if spec.Watermark != nil {
		img, err = watermark(img, *spec.Watermark)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
		}
	}

	outFormat := normalizeTarget(spec.Format, srcFormat)
	quality := spec.Quality
	if quality == 0 {
		if spec.Compress {
			quality = CompressQuality
		} else {
			quality = DefaultQuality
		}
	}

	buf, outFormat, err := encode(img, outFormat, quality, spec.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	bounds := img.Bounds()
	return &Result{
		Bytes:     buf.Bytes(),
		Format:    outFormat,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		SizeBytes: int64(buf.Len()),
	}, nil
}

// normalizeTarget resolves the output format: the requested one if set,
// otherwise the source container.
func normalizeTarget(requested, srcFormat string) string {
	if requested != "" {
		if f, ok := model.NormalizeFormat(requested); ok {
			return f
		}
	}
	if f, ok := model.NormalizeFormat(srcFormat); ok {
		return f
	}
	return model.FormatJPEG
}

// encode writes the image in the given format. There is no pure Go webp
// encoder, so webp output falls back to jpeg; the returned format is the
// one actually written.
func encode(img image.Image, format string, quality int, compress bool) (*bytes.Buffer, string, error) {
	buf := new(bytes.Buffer)

	switch format {
	case model.FormatWebP:
		format = model.FormatJPEG
		fallthrough
	case model.FormatJPEG:
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case model.FormatPNG:
		opts := []imaging.EncodeOption{}
		if compress {
			opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
		}
		if err := imaging.Encode(buf, img, imaging.PNG, opts...); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
	case model.FormatGIF:
		if err := imaging.Encode(buf, img, imaging.GIF); err != nil {
			return nil, "", fmt.Errorf("failed to encode gif: %w", err)
		}
	case model.FormatTIFF:
		if err := imaging.Encode(buf, img, imaging.TIFF); err != nil {
			return nil, "", fmt.Errorf("failed to encode tiff: %w", err)
		}
	case model.FormatBMP:
		if err := imaging.Encode(buf, img, imaging.BMP); err != nil {
			return nil, "", fmt.Errorf("failed to encode bmp: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported output format %q", format)
	}

	return buf, format, nil
}
