package jpegfix

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"
)

// PixelFormat describes one output or raw format a baseline decoder offers
// for an image.
type PixelFormat struct {
	ColorSpace ColorSpace
	Channels   int
	Bits       int
}

// ReadParam carries per-call decode settings. The zero value reads the full
// image into a new destination.
type ReadParam struct {
	// Region selects a source sub-rectangle. Empty means the full image.
	Region image.Rectangle

	// SubsampleX and SubsampleY request periodic pixel skipping. Values
	// below 1 mean no subsampling. Offsets select the phase.
	SubsampleX       int
	SubsampleY       int
	SubsampleXOffset int
	SubsampleYOffset int

	// Destination, when non-nil, receives the decoded pixels at DestOffset
	// instead of a freshly allocated image.
	Destination xdraw.Image
	DestOffset  image.Point
}

// ErrRawUnsupported is returned by DecodeRaw when the decoder cannot produce
// untouched source-space samples for the stream's color space.
var ErrRawUnsupported = errors.New("raw decoding not supported for this stream")

// BaselineDecoder is the baseline/progressive decoding capability the
// corrective reader delegates entropy and DCT work to. Implementations are
// used by one Reader at a time.
type BaselineDecoder interface {
	// SetInput attaches the decoder to a stream. The decoder must leave the
	// stream position where it found it between operations.
	SetInput(rs io.ReadSeeker) error

	// NumImages reports the number of decodable images in the stream.
	NumImages(ctx context.Context) (int, error)

	// Decode produces a fully color-managed image.
	Decode(ctx context.Context, index int, param *ReadParam) (image.Image, error)

	// DecodeRaw produces decoded samples in the source color space, with no
	// color conversion applied. Returns ErrRawUnsupported (possibly wrapped)
	// when that is not possible for the stream.
	DecodeRaw(ctx context.Context, index int, param *ReadParam) (*Raster, error)

	// OutputFormats lists the formats Decode can produce for an image.
	// An empty list means Decode will fail for this stream.
	OutputFormats(index int) ([]PixelFormat, error)

	// RawFormat reports the format DecodeRaw would produce, if any.
	RawFormat(index int) (PixelFormat, bool)

	// CanDecodeRaw reports whether the decoder supports raw decoding at all.
	CanDecodeRaw() bool

	// Abort requests that an in-flight decode stops early.
	Abort()
}

// StdDecoder is a BaselineDecoder backed by image/jpeg. It decodes managed
// images for everything the stdlib handles, and raw rasters for grayscale and
// YCbCr streams. CMYK and YCCK streams are not available raw because the
// stdlib converts them during decoding.
type StdDecoder struct {
	rs      io.ReadSeeker
	start   int64
	aborted atomic.Bool
}

// NewStdDecoder returns an unattached stdlib-backed decoder.
func NewStdDecoder() *StdDecoder { return &StdDecoder{} }

func (d *StdDecoder) SetInput(rs io.ReadSeeker) error {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	d.rs = rs
	d.start = pos
	return nil
}

func (d *StdDecoder) rewind() error {
	if d.rs == nil {
		return errors.New("no input set")
	}
	_, err := d.rs.Seek(d.start, io.SeekStart)
	return err
}

func (d *StdDecoder) config() (image.Config, error) {
	if err := d.rewind(); err != nil {
		return image.Config{}, err
	}
	defer d.rs.Seek(d.start, io.SeekStart) //nolint:errcheck

	return jpeg.DecodeConfig(d.rs)
}

func (d *StdDecoder) NumImages(_ context.Context) (int, error) {
	if _, err := d.config(); err != nil {
		return 0, fmt.Errorf("decode header: %w", err)
	}
	return 1, nil
}

func (d *StdDecoder) Decode(ctx context.Context, index int, param *ReadParam) (image.Image, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.rewind(); err != nil {
		return nil, err
	}
	defer d.rs.Seek(d.start, io.SeekStart) //nolint:errcheck

	d.aborted.Store(false)

	img, err := jpeg.Decode(d.rs)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if d.aborted.Load() {
		return nil, errors.New("decode aborted")
	}
	return applyReadParam(img, param), nil
}

func (d *StdDecoder) DecodeRaw(ctx context.Context, index int, param *ReadParam) (*Raster, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.rewind(); err != nil {
		return nil, err
	}
	defer d.rs.Seek(d.start, io.SeekStart) //nolint:errcheck

	img, err := jpeg.Decode(d.rs)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var raster *Raster
	switch src := img.(type) {
	case *image.Gray:
		raster = NewRaster(src.Rect.Dx(), src.Rect.Dy(), 1)
		for y := 0; y < raster.Height; y++ {
			copy(raster.Pix[y*raster.Width:], src.Pix[y*src.Stride:y*src.Stride+raster.Width])
		}
	case *image.YCbCr:
		raster = NewRaster(src.Rect.Dx(), src.Rect.Dy(), 3)
		for y := 0; y < raster.Height; y++ {
			for x := 0; x < raster.Width; x++ {
				i := (y*raster.Width + x) * 3
				raster.Pix[i] = src.Y[src.YOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)]
				co := src.COffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)
				raster.Pix[i+1] = src.Cb[co]
				raster.Pix[i+2] = src.Cr[co]
			}
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrRawUnsupported, img)
	}

	return subsetRaster(raster, param), nil
}

func (d *StdDecoder) OutputFormats(index int) ([]PixelFormat, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	return stdOutputFormats(cfg), nil
}

func (d *StdDecoder) RawFormat(index int) (PixelFormat, bool) {
	if err := checkIndex(index); err != nil {
		return PixelFormat{}, false
	}
	cfg, err := d.config()
	if err != nil {
		return PixelFormat{}, false
	}
	return stdRawFormat(cfg)
}

func stdOutputFormats(cfg image.Config) []PixelFormat {
	switch cfg.ColorModel {
	case color.GrayModel:
		return []PixelFormat{{ColorSpace: ColorSpaceGray, Channels: 1, Bits: 8}}
	case color.YCbCrModel:
		return []PixelFormat{{ColorSpace: ColorSpaceRGB, Channels: 3, Bits: 8}}
	case color.CMYKModel:
		return []PixelFormat{{ColorSpace: ColorSpaceCMYK, Channels: 4, Bits: 8}}
	}
	return nil
}

func stdRawFormat(cfg image.Config) (PixelFormat, bool) {
	switch cfg.ColorModel {
	case color.GrayModel:
		return PixelFormat{ColorSpace: ColorSpaceGray, Channels: 1, Bits: 8}, true
	case color.YCbCrModel:
		return PixelFormat{ColorSpace: ColorSpaceYCbCr, Channels: 3, Bits: 8}, true
	}
	return PixelFormat{}, false
}

func (d *StdDecoder) CanDecodeRaw() bool { return true }

func (d *StdDecoder) Abort() { d.aborted.Store(true) }

func checkIndex(index int) error {
	if index != 0 {
		return fmt.Errorf("image index %d out of range", index)
	}
	return nil
}

// applyReadParam realizes region, subsampling and destination settings on a
// decoded image.
func applyReadParam(img image.Image, param *ReadParam) image.Image {
	if param == nil {
		return img
	}

	src := img
	region := param.Region
	if !region.Empty() {
		region = region.Intersect(img.Bounds())
	} else {
		region = img.Bounds()
	}

	sx, sy := param.SubsampleX, param.SubsampleY
	if sx < 1 {
		sx = 1
	}
	if sy < 1 {
		sy = 1
	}

	if !region.Eq(img.Bounds()) || sx > 1 || sy > 1 {
		w := (region.Dx() - param.SubsampleXOffset + sx - 1) / sx
		h := (region.Dy() - param.SubsampleYOffset + sy - 1) / sy
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(x, y, img.At(
					region.Min.X+param.SubsampleXOffset+x*sx,
					region.Min.Y+param.SubsampleYOffset+y*sy,
				))
			}
		}
		src = out
	}

	if param.Destination != nil {
		compositeInto(param.Destination, param.DestOffset, src)
		return param.Destination
	}
	return src
}

// subsetRaster applies region and subsampling settings to a raw raster.
// Destination compositing does not apply to raw reads.
func subsetRaster(r *Raster, param *ReadParam) *Raster {
	if param == nil {
		return r
	}

	region := param.Region
	full := image.Rect(0, 0, r.Width, r.Height)
	if region.Empty() {
		region = full
	} else {
		region = region.Intersect(full)
	}

	sx, sy := param.SubsampleX, param.SubsampleY
	if sx < 1 {
		sx = 1
	}
	if sy < 1 {
		sy = 1
	}
	if region.Eq(full) && sx == 1 && sy == 1 {
		return r
	}

	w := (region.Dx() - param.SubsampleXOffset + sx - 1) / sx
	h := (region.Dy() - param.SubsampleYOffset + sy - 1) / sy
	out := NewRaster(w, h, r.Channels)
	for y := 0; y < h; y++ {
		srcY := region.Min.Y + param.SubsampleYOffset + y*sy
		for x := 0; x < w; x++ {
			srcX := region.Min.X + param.SubsampleXOffset + x*sx
			si := (srcY*r.Width + srcX) * r.Channels
			di := (y*w + x) * r.Channels
			copy(out.Pix[di:di+r.Channels], r.Pix[si:si+r.Channels])
		}
	}
	return out
}
