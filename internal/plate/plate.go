// Package plate renders the placeholder tile used for failed items and lays
// the finished images out as one grid.
package plate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ErrNoCells is returned when Compose receives nothing to lay out.
var ErrNoCells = errors.New("plate has no cells")

var (
	background       = color.NRGBA{R: 24, G: 22, B: 28, A: 255}
	placeholder      = color.NRGBA{R: 58, G: 54, B: 66, A: 255}
	placeholderInner = color.NRGBA{R: 92, G: 86, B: 104, A: 255}
)

// Placeholder returns a size×size PNG standing in for an image that could not
// be generated.
func Placeholder(size int) ([]byte, error) {
	return encode(placeholderTile(size))
}

func placeholderTile(size int) *image.NRGBA {
	if size < 1 {
		size = 1
	}

	tile := imaging.New(size, size, placeholder)
	inset := size / 4

	if inner := size - 2*inset; inner > 0 {
		tile = imaging.Paste(tile, imaging.New(inner, inner, placeholderInner), image.Pt(inset, inset))
	}

	return tile
}

// Compose places every image on a grid of columns, each cropped to a
// cellSize square, in order. Undecodable images are drawn as placeholders.
func Compose(images [][]byte, columns, cellSize int) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoCells
	}

	if columns < 1 {
		columns = 1
	}

	if columns > len(images) {
		columns = len(images)
	}

	rows := (len(images) + columns - 1) / columns
	canvas := imaging.New(columns*cellSize, rows*cellSize, background)

	for index, data := range images {
		cell := tile(data, cellSize)
		origin := image.Pt((index%columns)*cellSize, (index/columns)*cellSize)
		canvas = imaging.Paste(canvas, cell, origin)
	}

	return encode(canvas)
}

func tile(data []byte, cellSize int) image.Image {
	if len(data) == 0 {
		return placeholderTile(cellSize)
	}

	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return placeholderTile(cellSize)
	}

	return imaging.Fill(decoded, cellSize, cellSize, imaging.Center, imaging.Lanczos)
}

func encode(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer

	if err := imaging.Encode(&buffer, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return buffer.Bytes(), nil
}
