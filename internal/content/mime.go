package content

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedMediaTypes is the ingestion allow-list. Checked before any byte is
// persisted.
var allowedMediaTypes = map[string]bool{
	"image/jpeg":       true,
	"image/png":        true,
	"image/gif":        true,
	"image/webp":       true,
	"image/svg+xml":    true,
	"application/pdf":  true,
	"text/plain":       true,
	"application/json": true,
	"application/zip":  true,
}

// sniffLen is how many leading bytes the detector may consume.
const sniffLen = 3072

// normalizeMediaType lowercases a client-supplied content type and strips
// parameters ("text/plain; charset=utf-8" -> "text/plain").
func normalizeMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	return strings.ToLower(s)
}

// sniffMediaType detects the media type from the stream's leading bytes and
// returns it together with a reader that replays the consumed prefix. Used
// when the client sent no usable content type; classification never trusts a
// blank header.
func sniffMediaType(r io.Reader) (string, io.Reader, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err
	}
	header = header[:n]

	detected := normalizeMediaType(mimetype.Detect(header).String())
	return detected, io.MultiReader(bytes.NewReader(header), r), nil
}
