package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// PPTX extracts the text runs of every slide in slide order. Each shape's
// paragraphs become lines, matching what a presentation's outline shows.
type PPTX struct{}

func (PPTX) Extract(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}

	var slides []*zip.File
	for _, f := range zr.File {
		if isSlide(f.Name) {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	var parts []string
	for _, f := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		paras, err := slideParagraphs(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		parts = append(parts, paras...)
	}
	return strings.Join(parts, "\n"), nil
}

func isSlide(name string) bool {
	dir, file := path.Split(name)
	return dir == "ppt/slides/" && strings.HasPrefix(file, "slide") && strings.HasSuffix(file, ".xml")
}

func slideNumber(name string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(path.Base(name), "slide"), ".xml")
	n, err := strconv.Atoi(base)
	if err != nil {
		return 1 << 30
	}
	return n
}

// slideParagraphs walks the slide XML and joins the <a:t> runs of each
// <a:p> paragraph.
func slideParagraphs(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					out = append(out, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
