package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func buildPPTX(t *testing.T, slides map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range slides {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create error: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write error: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close error: %v", err)
	}
	return buf.Bytes()
}

func slideXML(paras ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>`)
	for _, p := range paras {
		b.WriteString("<a:p><a:r><a:t>" + p + "</a:t></a:r></a:p>")
	}
	b.WriteString(`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func TestRegistry_PlainText(t *testing.T) {
	r := NewRegistry()
	got, err := r.Extract(context.Background(), "TXT", []byte("hello world"))
	if err != nil || got != "hello world" {
		t.Fatalf("expected passthrough, got %q (%v)", got, err)
	}
}

func TestRegistry_EmptyIsNoText(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), "md", []byte("   \n\t"))
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestRegistry_UnsupportedType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), "docx", []byte("x"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestPPTX_SlideOrder(t *testing.T) {
	data := buildPPTX(t, map[string]string{
		"ppt/slides/slide10.xml":           slideXML("Ten"),
		"ppt/slides/slide2.xml":            slideXML("Two", "Second line"),
		"ppt/slides/slide1.xml":            slideXML("One"),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
		"ppt/notesSlides/notesSlide1.xml":  slideXML("Speaker notes"),
	})
	got, err := NewRegistry().Extract(context.Background(), "pptx", data)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	want := "One\nTwo\nSecond line\nTen"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPPTX_NotAZip(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "pptx", []byte("not a zip"))
	if err == nil || errors.Is(err, ErrNoText) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestPDF_Garbage(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "pdf", []byte("%PDF-1.4 garbage"))
	if err == nil {
		t.Fatalf("expected error for malformed pdf")
	}
}

func TestHTML_DropsScripts(t *testing.T) {
	page := `<html><head><script>var x = 1;</script></head><body><nav>menu</nav><h1>Title</h1><p>Body text</p></body></html>`
	got, err := NewRegistry().Extract(context.Background(), "html", []byte(page))
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !strings.Contains(got, "# Title") || !strings.Contains(got, "Body text") {
		t.Fatalf("expected markdown content, got %q", got)
	}
	if strings.Contains(got, "var x") || strings.Contains(got, "menu") {
		t.Fatalf("expected script and nav to be removed, got %q", got)
	}
}
