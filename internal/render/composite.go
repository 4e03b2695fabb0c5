package render

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ErrEmptyGroup is returned when compositing a group with no pages
var ErrEmptyGroup = errors.New("composing strip: empty page group")

// Composite stacks a group of pages top to bottom, left-aligned at x=0, on
// a canvas as wide as the widest page and as tall as all pages together.
// Pages are never scaled or cropped; area beside narrower pages is white.
func Composite(group []image.Image) (*image.RGBA, error) {
	if len(group) == 0 {
		return nil, ErrEmptyGroup
	}

	width, height := 0, 0
	for i, page := range group {
		if page == nil {
			return nil, fmt.Errorf("composing strip: page %d is nil", i)
		}
		b := page.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}

	strip := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(strip, strip.Bounds(), image.White, image.Point{}, draw.Src)

	offset := 0
	for _, page := range group {
		b := page.Bounds()
		draw.Draw(strip, image.Rect(0, offset, b.Dx(), offset+b.Dy()), page, b.Min, draw.Src)
		offset += b.Dy()
	}
	return strip, nil
}
