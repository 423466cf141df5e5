// Package optimizer derives optimized image variants: decode, fit-inside
// resize without enlargement, re-encode to a delivery-friendly format.
package optimizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when the source bytes do not decode as an
// image. Callers on the ingestion path treat this as a soft failure.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Format is a target encoding for derivatives.
type Format string

const (
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat validates a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatWebP, FormatAVIF, FormatJPEG, FormatPNG:
		return f, nil
	default:
		return "", fmt.Errorf("unknown derivative format %q", s)
	}
}

// Ext returns the file extension for the format, with leading dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ContentType returns the MIME type derivatives of this format are served as.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Options controls one derivation run.
type Options struct {
	// MaxWidth/MaxHeight bound the output dimensions. The source is scaled
	// to fit inside the box preserving aspect ratio, and never upscaled.
	// Zero means unbounded on that axis.
	MaxWidth  int
	MaxHeight int
	// Quality in [1,100]. A hint only for lossless encoders.
	Quality int
	Format  Format
}

// Metadata describes the source image, not the derivative.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// Optimize decodes the source stream, resizes it to fit the configured
// bounding box, and re-encodes it. It returns the encoded bytes and the
// source metadata. Decode failures are reported as ErrUnsupportedFormat.
//
// The full source is read into memory: decoders need the complete stream,
// and upload sizes are capped well before this point.
func Optimize(r io.Reader, opts Options) ([]byte, *Metadata, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read source: %w", err)
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	meta := &Metadata{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: srcFormat,
		Size:   int64(len(src)),
	}

	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		maxW, maxH := opts.MaxWidth, opts.MaxHeight
		if maxW <= 0 {
			maxW = meta.Width
		}
		if maxH <= 0 {
			maxH = meta.Height
		}
		// Fit scales down only; smaller sources keep their dimensions.
		img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch opts.Format {
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: opts.Quality})
	case FormatAVIF:
		err = avif.Encode(&buf, img, avif.Options{Quality: opts.Quality})
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	case FormatPNG:
		// Quality is a hint; PNG is lossless.
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		return nil, nil, fmt.Errorf("unknown derivative format %q", opts.Format)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", opts.Format, err)
	}

	return buf.Bytes(), meta, nil
}
