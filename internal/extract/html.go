package extract

import (
	"bytes"
	"context"
	"fmt"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// HTML converts a page to markdown after dropping non-content elements.
type HTML struct{}

func (HTML) Extract(_ context.Context, data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	converter := htmlmd.NewConverter("", true, nil)
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return converter.Convert(sel), nil
}
