package render

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultDPI is the rasterisation resolution for PDF pages
const DefaultDPI = 150

// Renderer turns a source document into ordered page images
type Renderer interface {
	Render(data []byte, contentType string) ([]image.Image, error)
}

// FitzRenderer renders PDFs with MuPDF and decodes image scans directly
type FitzRenderer struct {
	dpi float64
}

// NewFitzRenderer creates a renderer rasterising PDF pages at dpi
func NewFitzRenderer(dpi float64) *FitzRenderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &FitzRenderer{dpi: dpi}
}

// Render returns one image per page. A PDF with no pages yields an empty slice.
func (r *FitzRenderer) Render(data []byte, contentType string) ([]image.Image, error) {
	mimeType := normalizeMIMEType(contentType)
	if mimeType == "application/pdf" {
		return r.renderPDF(data)
	}

	img, err := decodeImage(data, mimeType)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

func (r *FitzRenderer) renderPDF(data []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// PageCount reads the page count of a PDF without rasterising it
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("counting PDF pages: %w", err)
	}
	return n, nil
}

// ContentTypeFor guesses a MIME type from a file name
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// IsSupported reports whether a file name has an extension the renderer accepts
func IsSupported(filename string) bool {
	return ContentTypeFor(filename) != "application/octet-stream"
}
