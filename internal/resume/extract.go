package resume

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractionError is fatal for the whole run: without resume text there is
// nothing to score against and nothing to upload.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting resume text from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractText returns the plain text of the resume document. PDF files go
// through github.com/ledongthuc/pdf; plain-text files are read as-is. When
// cachePath is set, a previously extracted copy is reused and fresh
// extractions are written back to it.
func ExtractText(path, cachePath string) (string, error) {
	if cachePath != "" {
		if cached, err := os.ReadFile(cachePath); err == nil && len(cached) > 0 {
			return string(cached), nil
		}
	}

	text, err := extract(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}

	if strings.TrimSpace(text) == "" {
		return "", &ExtractionError{Path: path, Err: fmt.Errorf("document contains no extractable text")}
	}

	if cachePath != "" {
		// Cache write failures are not fatal; extraction already succeeded.
		_ = os.WriteFile(cachePath, []byte(text), 0o644)
	}

	return text, nil
}

func extract(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported resume format %q", filepath.Ext(path))
	}
}

func extractPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	content, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(content); err != nil {
		return "", err
	}

	return buf.String(), nil
}
