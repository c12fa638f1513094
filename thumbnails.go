package jpegfix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Thumbnail is one embedded preview image. Width and Height are known without
// decoding; Read decodes the pixel data on demand.
type Thumbnail interface {
	Width() int
	Height() int
	Read(ctx context.Context) (image.Image, error)
}

// jpegDecodeFunc decodes an embedded JPEG stream. The Reader provides one
// backed by its shared sub-decoder.
type jpegDecodeFunc func(ctx context.Context, data []byte) (image.Image, error)

// FitThumbnail scales a decoded thumbnail to fit within maxWidth x maxHeight,
// preserving aspect ratio. Thumbnails already within bounds pass through.
func FitThumbnail(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth && b.Dy() <= maxHeight {
		return img
	}
	return resize.Thumbnail(uint(maxWidth), uint(maxHeight), img, resize.Lanczos3)
}

// extractThumbnails enumerates the thumbnails of a segment catalog in source
// priority order: JFIF raster first, then JFXX, then Exif IFD1. Malformed
// entries are skipped with a warning.
func extractThumbnails(segments []Segment, decodeJPEG jpegDecodeFunc, warn func(string)) []Thumbnail {
	var thumbs []Thumbnail

	if jfif := jfifOf(segments); jfif != nil && jfif.XThumbnail > 0 && jfif.YThumbnail > 0 && len(jfif.Thumbnail) > 0 {
		thumbs = append(thumbs, &jfifThumbnail{jfif: jfif})
	}

	if jfxx := jfxxOf(segments); jfxx != nil {
		if t, err := newJFXXThumbnail(jfxx, decodeJPEG); err != nil {
			warn(fmt.Sprintf("Bogus JFXX thumbnail, ignoring: %v", err))
		} else if t != nil {
			thumbs = append(thumbs, t)
		}
	}

	if exif := exifOf(segments); exif != nil {
		if t, err := newExifThumbnail(exif.Data, decodeJPEG); err != nil {
			warn(fmt.Sprintf("Bogus Exif thumbnail, ignoring: %v", err))
		} else if t != nil {
			thumbs = append(thumbs, t)
		}
	}

	return thumbs
}

// jfifThumbnail is the packed RGB raster inside the JFIF APP0 segment.
type jfifThumbnail struct {
	jfif *JFIF
}

func (t *jfifThumbnail) Width() int  { return t.jfif.XThumbnail }
func (t *jfifThumbnail) Height() int { return t.jfif.YThumbnail }

func (t *jfifThumbnail) Read(_ context.Context) (image.Image, error) {
	r := &Raster{
		Width:    t.jfif.XThumbnail,
		Height:   t.jfif.YThumbnail,
		Channels: 3,
		Pix:      t.jfif.Thumbnail,
	}
	return r.ToImage(ColorSpaceRGB, false)
}

// jfxxThumbnail handles the three JFXX encodings: an embedded JPEG stream, a
// 256-color indexed raster, and a packed RGB raster.
type jfxxThumbnail struct {
	code       int
	data       []byte
	width      int
	height     int
	decodeJPEG jpegDecodeFunc
}

func newJFXXThumbnail(jfxx *JFXX, decodeJPEG jpegDecodeFunc) (Thumbnail, error) {
	t := &jfxxThumbnail{code: jfxx.ExtensionCode, data: jfxx.Thumbnail, decodeJPEG: decodeJPEG}

	switch jfxx.ExtensionCode {
	case JFXXJPEG:
		frame, err := embeddedFrame(jfxx.Thumbnail)
		if err != nil {
			return nil, err
		}
		t.width = frame.SamplesPerLine
		t.height = frame.Lines

	case JFXXIndexed:
		if len(jfxx.Thumbnail) < 2 {
			return nil, errors.New("truncated indexed thumbnail")
		}
		t.width = int(jfxx.Thumbnail[0])
		t.height = int(jfxx.Thumbnail[1])
		if len(jfxx.Thumbnail) < 2+768+t.width*t.height {
			return nil, errors.New("truncated indexed thumbnail")
		}

	case JFXXRGB:
		if len(jfxx.Thumbnail) < 2 {
			return nil, errors.New("truncated RGB thumbnail")
		}
		t.width = int(jfxx.Thumbnail[0])
		t.height = int(jfxx.Thumbnail[1])
		if len(jfxx.Thumbnail) < 2+t.width*t.height*3 {
			return nil, errors.New("truncated RGB thumbnail")
		}

	default:
		return nil, fmt.Errorf("unknown JFXX extension code 0x%02X", jfxx.ExtensionCode)
	}

	return t, nil
}

func (t *jfxxThumbnail) Width() int  { return t.width }
func (t *jfxxThumbnail) Height() int { return t.height }

func (t *jfxxThumbnail) Read(ctx context.Context) (image.Image, error) {
	switch t.code {
	case JFXXJPEG:
		return t.decodeJPEG(ctx, t.data)

	case JFXXIndexed:
		palette := t.data[2 : 2+768]
		pixels := t.data[2+768:]
		img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
		for i := 0; i < t.width*t.height; i++ {
			p := int(pixels[i]) * 3
			img.Pix[i*4] = palette[p]
			img.Pix[i*4+1] = palette[p+1]
			img.Pix[i*4+2] = palette[p+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil

	case JFXXRGB:
		r := &Raster{Width: t.width, Height: t.height, Channels: 3, Pix: t.data[2:]}
		return r.ToImage(ColorSpaceRGB, false)
	}

	return nil, fmt.Errorf("unknown JFXX extension code 0x%02X", t.code)
}

// exifThumbnail is the IFD1 preview of the Exif segment, either a complete
// JPEG interchange stream or uncompressed strips.
type exifThumbnail struct {
	width      int
	height     int
	jpeg       []byte // set for compression 6
	strip      []byte // set for compression 1
	ycbcr      bool
	decodeJPEG jpegDecodeFunc
}

func newExifThumbnail(tiff []byte, decodeJPEG jpegDecodeFunc) (Thumbnail, error) {
	dirs, err := parseTIFF(tiff)
	if err != nil {
		return nil, err
	}
	// IFD0 describes the main image; exactly one more IFD holds the
	// thumbnail. Anything else is not an Exif thumbnail layout.
	if len(dirs) != 2 {
		return nil, nil
	}
	ifd1 := dirs[1]

	compression, ok := ifd1.uintValue(tagCompression)
	if !ok {
		// Exif thumbnails without a Compression tag are JPEG compressed.
		compression = compressionJPEG
	}

	switch compression {
	case compressionJPEG:
		offset, ok := ifd1.uintValue(tagJPEGInterchangeFormat)
		if !ok {
			return nil, errors.New("JPEG compressed thumbnail without JPEGInterchangeFormat")
		}
		length, ok := ifd1.uintValue(tagJPEGInterchangeFormatLength)
		if !ok || length == 0 {
			return nil, errors.New("JPEG compressed thumbnail without length")
		}
		if int(offset)+int(length) > len(tiff) {
			return nil, errors.New("JPEG thumbnail data out of range")
		}

		data := tiff[offset : offset+length]
		frame, err := embeddedFrame(data)
		if err != nil {
			return nil, err
		}
		return &exifThumbnail{
			width:      frame.SamplesPerLine,
			height:     frame.Lines,
			jpeg:       data,
			decodeJPEG: decodeJPEG,
		}, nil

	case compressionNone:
		offset, ok := ifd1.uintValue(tagStripOffsets)
		if !ok {
			return nil, errors.New("uncompressed thumbnail without StripOffsets")
		}
		width, wok := ifd1.uintValue(tagImageWidth)
		height, hok := ifd1.uintValue(tagImageLength)
		if !wok || !hok || width == 0 || height == 0 {
			return nil, errors.New("uncompressed thumbnail without dimensions")
		}
		size := int(width) * int(height) * 3
		if int(offset)+size > len(tiff) {
			return nil, errors.New("thumbnail strip data out of range")
		}

		photometric, _ := ifd1.uintValue(tagPhotometricInterpretation)
		return &exifThumbnail{
			width:  int(width),
			height: int(height),
			strip:  tiff[offset : int(offset)+size],
			ycbcr:  photometric == 6,
		}, nil
	}

	return nil, fmt.Errorf("unsupported thumbnail compression %d", compression)
}

func (t *exifThumbnail) Width() int  { return t.width }
func (t *exifThumbnail) Height() int { return t.height }

func (t *exifThumbnail) Read(ctx context.Context) (image.Image, error) {
	if t.jpeg != nil {
		return t.decodeJPEG(ctx, t.jpeg)
	}

	r := &Raster{
		Width:    t.width,
		Height:   t.height,
		Channels: 3,
		Pix:      append([]byte(nil), t.strip...),
	}
	if t.ycbcr {
		if err := ConvertYCbCrToRGB(r); err != nil {
			return nil, err
		}
	}
	return r.ToImage(ColorSpaceRGB, false)
}

// embeddedFrame reads the SOF of an embedded JPEG stream for its dimensions.
func embeddedFrame(data []byte) (*Frame, error) {
	segments, err := ReadSegments(bytes.NewReader(data), nil)
	if err != nil {
		return nil, err
	}
	return frameOf(segments)
}
