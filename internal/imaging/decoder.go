package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/Brownie44l1/fer-recorder/internal/model"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports bytes which can not be interpreted as an image
var ErrDecode = errors.New("unable to decode image")

// DefaultMaxPixels limits decoded image area, 4096x4096
const DefaultMaxPixels = 4096 * 4096

// Decoder converts uploaded images into model input tensors
type Decoder struct {
	Size      int          // target width and height
	Layout    model.Layout // tensor layout expected by the model
	MaxPixels int          // max width*height of uploaded image
}

// NewDecoder returns decoder for square images of the given size
func NewDecoder(size int, layout model.Layout) *Decoder {
	if layout == "" {
		layout = model.NHWC
	}
	return &Decoder{Size: size, Layout: layout, MaxPixels: DefaultMaxPixels}
}

// Decode auto-detects image format and produces normalized RGB tensor of
// shape (1, Size, Size, 3) or (1, 3, Size, Size) for NCHW layout. The image
// is stretched to the target size regardless of its aspect ratio. Images
// larger than MaxPixels are rejected before pixel data is decoded.
func (d *Decoder) Decode(ctx context.Context, data []byte) (model.Tensor, error) {
	if len(data) == 0 {
		return model.Tensor{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.Tensor{}, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	if d.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(d.MaxPixels) {
		return model.Tensor{}, fmt.Errorf("%w: %s image %dx%d exceeds %d pixels", ErrDecode, format, cfg.Width, cfg.Height, d.MaxPixels)
	}
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return model.Tensor{}, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}
	return d.Tensor(img), nil
}

// Tensor resizes decoded image and converts it into model input tensor
func (d *Decoder) Tensor(img image.Image) model.Tensor {
	size := uint(d.Size)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// NRGBA conversion drops alpha premultiplication and maps
			// gray, paletted, CMYK and YCbCr sources onto RGB
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			b := float32(c.B) / 255.0

			pixelIndex := y*width + x
			if d.Layout == model.NCHW {
				data[pixelIndex] = r
				data[plane+pixelIndex] = g
				data[2*plane+pixelIndex] = b
			} else {
				data[3*pixelIndex] = r
				data[3*pixelIndex+1] = g
				data[3*pixelIndex+2] = b
			}
		}
	}

	shape := []int64{1, int64(height), int64(width), 3}
	if d.Layout == model.NCHW {
		shape = []int64{1, 3, int64(height), int64(width)}
	}
	return model.Tensor{Data: data, Shape: shape, Layout: d.Layout}
}
