package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts the plain text layer of every page.
type PDF struct{}

func (PDF) Extract(ctx context.Context, data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	parts := make([]string, 0, r.NumPage())
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", pageIndex, err)
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, pageText)
		}
	}
	return strings.Join(parts, "\n"), nil
}
