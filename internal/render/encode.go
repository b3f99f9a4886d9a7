package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/webp"
)

// Encoder turns a finished render into uploadable bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	Format() string
	ContentType() string
	Ext() string
}

func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "", "png":
		return PNGEncoder{}, nil
	case "webp":
		if quality <= 0 {
			quality = 85
		}
		return WebPEncoder{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("unsupported render format %q (supported: png, webp)", format)
	}
}

type PNGEncoder struct{}

func (PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (PNGEncoder) Format() string      { return "png" }
func (PNGEncoder) ContentType() string { return "image/png" }
func (PNGEncoder) Ext() string         { return ".png" }

type WebPEncoder struct {
	Quality int
}

func (e WebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("webp encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (WebPEncoder) Format() string      { return "webp" }
func (WebPEncoder) ContentType() string { return "image/webp" }
func (WebPEncoder) Ext() string         { return ".webp" }
