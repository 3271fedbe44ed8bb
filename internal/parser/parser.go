package parser

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

// separator between extracted PDF pages
const pageSeparator = "\n\n"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ResolveSourceType decides the source type of an upload from its MIME hint,
// falling back to the file extension.
func ResolveSourceType(filename, mimeHint string) (models.SourceType, error) {
	if mediaType, _, err := mime.ParseMediaType(mimeHint); err == nil {
		switch strings.ToLower(mediaType) {
		case "application/pdf":
			return models.SourcePDF, nil
		case "text/plain":
			return models.SourceTXT, nil
		}
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return models.SourcePDF, nil
	case ".txt":
		return models.SourceTXT, nil
	default:
		return "", fmt.Errorf("%w: %q (%s)", models.ErrUnsupportedFormat, filename, mimeHint)
	}
}

// Extract returns the plain text of data according to sourceType
func Extract(data []byte, sourceType models.SourceType) (string, error) {
	switch sourceType {
	case models.SourcePDF:
		return extractPDF(data)
	case models.SourceTXT:
		return extractText(data)
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, sourceType)
	}
}

func extractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", models.ErrEncoding)
	}
	return string(data), nil
}

// extractPDF reads the document from memory. The pdf package panics on some
// malformed inputs, so a panic is reported as an extraction failure.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", models.ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrExtractionFailed, err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", models.ErrExtractionFailed, i, err)
		}
		pages = append(pages, pageText)
	}

	log.Debug().Int("pages", numPages).Int("bytes", len(data)).Msg("extracted pdf")
	return strings.Join(pages, pageSeparator), nil
}
