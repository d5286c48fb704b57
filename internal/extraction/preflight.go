package extraction

import (
	"bytes"
	"fmt"
	"io"

	pdf "github.com/ledongthuc/pdf"
)

// PreflightPDF verifies a document payload is a readable PDF before an
// extraction call is spent on it, and returns the extracted plain text for
// use as evidence fallback. A payload that cannot be read here would fail
// extraction anyway; rejecting early keeps the request free of side effects.
func PreflightPDF(payload []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", fmt.Errorf("unreadable pdf: %w", err)
	}

	rc, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
