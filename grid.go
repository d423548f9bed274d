package pmgan

import (
	"fmt"
	"image"
	"image/color"

	"gorgonia.org/tensor"
)

const GridSpacing = 1

var GridSpaceColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

// GridImage Arranges batch of images [batch, colors, height, width] in a grid with cols columns.
// Values are expected in range [low, high] and are clamped. Colors should be 1 (grayscale) or 3 (RGB).
func GridImage(batch tensor.Tensor, cols int, low, high float64) (image.Image, error) {
	shp := batch.Shape()
	if len(shp) != 4 {
		return nil, fmt.Errorf("Expected batch of shape [batch, colors, height, width], got %v", shp)
	}
	n, depth, height, width := shp[0], shp[1], shp[2], shp[3]
	if depth != 1 && depth != 3 {
		return nil, fmt.Errorf("Only 1 or 3 colors are supported, got %d", depth)
	}
	if cols <= 0 || high <= low {
		return nil, fmt.Errorf("Bad grid parameters: cols=%d low=%g high=%g", cols, low, high)
	}
	data, ok := batch.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Only float64 batches are supported, got %v", batch.Dtype())
	}
	rows := (n + cols - 1) / cols

	newWidth := width*cols + (cols+1)*GridSpacing
	newHeight := height*rows + (rows+1)*GridSpacing
	img := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			img.Set(x, y, GridSpaceColor)
		}
	}
	level := func(v float64) uint8 {
		v = (v - low) / (high - low)
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*0xff + 0.5)
	}
	plane := height * width
	for idx := 0; idx < n; idx++ {
		tileY := GridSpacing + (idx/cols)*(height+GridSpacing)
		tileX := GridSpacing + (idx%cols)*(width+GridSpacing)
		offset := idx * depth * plane
		for j := 0; j < height; j++ {
			for k := 0; k < width; k++ {
				at := offset + j*width + k
				if depth == 3 {
					img.SetRGBA(tileX+k, tileY+j, color.RGBA{
						R: level(data[at]),
						G: level(data[at+plane]),
						B: level(data[at+2*plane]),
						A: 0xff,
					})
				} else {
					img.Set(tileX+k, tileY+j, color.Gray{Y: level(data[at])})
				}
			}
		}
	}
	return img, nil
}
