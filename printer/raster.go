package printer

import (
	"image"

	"github.com/nfnt/resize"
)

// encodeRaster converts an image into a GS v 0 raster block: resize to
// the target dot width, per-pixel luminance, threshold at 128, packed
// 1bpp rows. Declared byte-width is always ceil(targetWidth/8).
func encodeRaster(img image.Image, targetWidth int) []byte {
	scaled := resize.Resize(uint(targetWidth), 0, img, resize.Lanczos3)
	bounds := scaled.Bounds()
	height := bounds.Dy()
	widthBytes := (targetWidth + 7) / 8

	out := make([]byte, 0, 8+widthBytes*height)
	out = append(out,
		0x1D, 0x76, 0x30, 0x00,
		byte(widthBytes&0xFF), byte(widthBytes>>8),
		byte(height&0xFF), byte(height>>8),
	)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := make([]byte, widthBytes)
		for x := 0; x < targetWidth; x++ {
			px := bounds.Min.X + x
			if px >= bounds.Max.X {
				break // right edge stays white when rounding shrank the scan line
			}
			r, g, b, _ := scaled.At(px, y).RGBA()
			// RGBA returns 16-bit channels; scale to 0..255 first.
			lum := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
			if lum < 128 {
				row[x/8] |= 0x80 >> (x % 8) // dark pixel prints as a set bit
			}
		}
		out = append(out, row...)
	}
	return out
}
