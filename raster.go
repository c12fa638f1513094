package jpegfix

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// Raster is decoded pixel data in its source color space, interleaved,
// 8 bits per channel. It is the exchange type between a BaselineDecoder's
// raw output and the corrective conversions applied on top of it.
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewRaster allocates a raster of the given geometry.
func NewRaster(width, height, channels int) *Raster {
	return &Raster{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

func (r *Raster) check(channels int) error {
	if r.Channels != channels {
		return fmt.Errorf("raster has %d channels, want %d", r.Channels, channels)
	}
	if len(r.Pix) < r.Width*r.Height*r.Channels {
		return fmt.Errorf("raster pixel buffer too short: %d", len(r.Pix))
	}
	return nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ycbcrToRGB converts one pixel in place using the JFIF full-range formulas.
func ycbcrToRGB(pix []byte) {
	y := int(pix[0])
	cb := int(pix[1]) - 128
	cr := int(pix[2]) - 128

	// Fixed point, 16 bit fraction. Same coefficients as the JFIF spec:
	// R = Y + 1.402 Cr, G = Y - 0.34414 Cb - 0.71414 Cr, B = Y + 1.772 Cb.
	pix[0] = clampByte(y + (91881*cr+32768)>>16)
	pix[1] = clampByte(y - (22554*cb+46802*cr+32768)>>16)
	pix[2] = clampByte(y + (116130*cb+32768)>>16)
}

// ConvertYCbCrToRGB converts a YCbCr raster to RGB in place. A fourth channel
// (alpha), if present, passes through untouched.
func ConvertYCbCrToRGB(r *Raster) error {
	if r.Channels != 3 && r.Channels != 4 {
		return fmt.Errorf("raster has %d channels, want 3 or 4", r.Channels)
	}
	if err := r.check(r.Channels); err != nil {
		return err
	}

	for i := 0; i < r.Width*r.Height*r.Channels; i += r.Channels {
		ycbcrToRGB(r.Pix[i : i+3])
	}
	return nil
}

// ConvertYCCKToCMYK converts a YCCK raster to CMYK in place. The first three
// channels get the YCbCr treatment, K alone is inverted.
func ConvertYCCKToCMYK(r *Raster) error {
	if err := r.check(4); err != nil {
		return err
	}

	for i := 0; i < r.Width*r.Height*4; i += 4 {
		ycbcrToRGB(r.Pix[i : i+3])
		r.Pix[i+3] = 255 - r.Pix[i+3]
	}
	return nil
}

// InvertCMYK inverts every sample of an Adobe-style inverted CMYK raster.
func InvertCMYK(r *Raster) {
	for i := range r.Pix {
		r.Pix[i] = 255 - r.Pix[i]
	}
}

// CMYKToRGB converts a (non-inverted) CMYK raster to an RGBA image. The fast
// variant uses the naive multiplicative model; without a CMM and a press
// profile that is as good as it gets, and it matches what most viewers do.
func CMYKToRGB(r *Raster, fast bool) (*image.RGBA, error) {
	if err := r.check(4); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, o := 0, 0; i < r.Width*r.Height*4; i, o = i+4, o+4 {
		c := int(r.Pix[i])
		m := int(r.Pix[i+1])
		y := int(r.Pix[i+2])
		k := int(r.Pix[i+3])

		var red, green, blue int
		if fast {
			red = (255 - c) * (255 - k) >> 8
			green = (255 - m) * (255 - k) >> 8
			blue = (255 - y) * (255 - k) >> 8
		} else {
			red = (255 - c) * (255 - k) / 255
			green = (255 - m) * (255 - k) / 255
			blue = (255 - y) * (255 - k) / 255
		}

		img.Pix[o] = byte(red)
		img.Pix[o+1] = byte(green)
		img.Pix[o+2] = byte(blue)
		img.Pix[o+3] = 255
	}
	return img, nil
}

// ToImage converts a raster assumed to hold the given (already corrected)
// color space into a standard image.
func (r *Raster) ToImage(cs ColorSpace, fastCMYK bool) (image.Image, error) {
	switch cs {
	case ColorSpaceGray:
		if err := r.check(1); err != nil {
			return nil, err
		}
		img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
		copy(img.Pix, r.Pix)
		return img, nil

	case ColorSpaceRGB, ColorSpaceYCbCr, ColorSpacePhotoYCC:
		if err := r.check(3); err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
		for i, o := 0, 0; i < r.Width*r.Height*3; i, o = i+3, o+4 {
			img.Pix[o] = r.Pix[i]
			img.Pix[o+1] = r.Pix[i+1]
			img.Pix[o+2] = r.Pix[i+2]
			img.Pix[o+3] = 255
		}
		return img, nil

	case ColorSpaceRGBA, ColorSpaceYCbCrAlpha, ColorSpacePhotoYCCAlpha:
		if err := r.check(4); err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
		copy(img.Pix, r.Pix)
		return img, nil

	case ColorSpaceCMYK, ColorSpaceYCCK:
		return CMYKToRGB(r, fastCMYK)
	}

	return nil, fmt.Errorf("cannot render %s raster as image", cs)
}

// compositeInto copies src into dst at offset, clipped to dst's bounds.
func compositeInto(dst xdraw.Image, offset image.Point, src image.Image) {
	rect := src.Bounds().Sub(src.Bounds().Min).Add(offset)
	xdraw.Draw(dst, rect.Intersect(dst.Bounds()), src, src.Bounds().Min, xdraw.Src)
}
