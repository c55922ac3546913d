package pipeline

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"code.sajari.com/docconv"
)

// Extractor turns a stored object into plain text.
type Extractor interface {
	Extract(r io.Reader, contentType string) (string, error)
}

// DocconvExtractor reads plain text formats directly and converts office,
// PDF, RTF and HTML documents with docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

func (e *DocconvExtractor) Extract(r io.Reader, contentType string) (string, error) {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}

	if isPlainText(mediaType) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read text: %w", err)
		}
		return string(data), nil
	}

	res, err := docconv.Convert(r, mediaType, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", mediaType, err)
	}
	return res.Body, nil
}

func isPlainText(mediaType string) bool {
	switch mediaType {
	case "text/plain", "text/markdown", "text/csv", "application/json":
		return true
	}
	return strings.HasPrefix(mediaType, "text/") && mediaType != "text/html"
}
