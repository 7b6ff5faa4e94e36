package manager

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	// Decoders for every supported input extension.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pkg/errors"
)

// DecodeFile opens and decodes an image file. The returned format is the
// registered decoder name (jpeg, png, gif, bmp, tiff, webp).
func DecodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "open image")
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "decode image %s", path)
	}
	return img, format, nil
}

// NormalizeRGB returns an opaque RGB copy of img. Alpha is dropped, not
// composited: each pixel keeps its straight (non-premultiplied) color.
func NormalizeRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if isOpaque(img) {
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

// EncodeRGB normalizes img and encodes it as PNG for transport to the runtime.
func EncodeRGB(img image.Image) ([]byte, string, error) {
	rgb := NormalizeRGB(img)
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, rgb); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
