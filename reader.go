package jpegfix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"sync"
)

// Options configure a Reader. Use the With... helpers with NewReader.
type Options struct {
	// ColorManagement enables the accurate (slower) CMYK conversion in
	// place of the fast multiplicative fallback.
	ColorManagement bool

	// ReadEmbeddedProfile controls whether ICC_PROFILE chunks are
	// reassembled at all. Enabled by default.
	ReadEmbeddedProfile bool

	// FastCMYK forces the fast CMYK to RGB conversion even when color
	// management is on.
	FastCMYK bool

	// AllowBadICCIndexes assembles badly indexed ICC chunk sets in
	// physical order instead of discarding them, and skips profile
	// normalization.
	AllowBadICCIndexes bool

	// Warn receives soft-recovery diagnostics. Defaults to slog.Warn.
	Warn func(string)

	// NewDecoder creates baseline decoders: one main delegate per Reader
	// plus, on demand, one shared sub-decoder for embedded JPEG
	// thumbnails. Defaults to NewStdDecoder.
	NewDecoder func() BaselineDecoder
}

// WithColorManagement enables accurate CMYK conversion.
func WithColorManagement() func(*Options) {
	return func(o *Options) { o.ColorManagement = true }
}

// WithoutEmbeddedProfile disables ICC profile reassembly.
func WithoutEmbeddedProfile() func(*Options) {
	return func(o *Options) { o.ReadEmbeddedProfile = false }
}

// WithFastCMYK forces the fast CMYK to RGB conversion.
func WithFastCMYK() func(*Options) {
	return func(o *Options) { o.FastCMYK = true }
}

// WithBadICCIndexes tolerates badly indexed ICC_PROFILE chunk sets.
func WithBadICCIndexes() func(*Options) {
	return func(o *Options) { o.AllowBadICCIndexes = true }
}

// WithWarningSink routes diagnostics to fn instead of slog.
func WithWarningSink(fn func(string)) func(*Options) {
	return func(o *Options) { o.Warn = fn }
}

// WithDecoderFactory injects the baseline decoder implementation.
func WithDecoderFactory(fn func() BaselineDecoder) func(*Options) {
	return func(o *Options) { o.NewDecoder = fn }
}

// streamState is everything derived from one input stream. It is built once
// per SetInput and replaced as a unit, so concurrent readers of an already
// built state never observe a partial mix of two inputs.
type streamState struct {
	segments []Segment
	frame    *Frame

	csOnce  sync.Once
	cs      ColorSpace
	csErr   error
	adobeOK bool

	profileOnce sync.Once
	profile     *ICCProfile
	profileErr  error

	thumbsOnce sync.Once
	thumbs     []Thumbnail
}

// Reader is a corrective JPEG reader. It delegates entropy and DCT work to a
// BaselineDecoder and fixes up what baseline decoders commonly get wrong:
// CMYK/YCCK inversion, misdeclared color spaces, broken ICC profiles and
// inconsistent Adobe markers.
//
// A Reader is used with one input at a time; SetInput resets all cached
// state. Methods other than SetInput, Abort and Close may be called
// concurrently once the input is set.
type Reader struct {
	opts     Options
	delegate BaselineDecoder

	mu    sync.Mutex
	input io.ReadSeeker
	state *streamState

	thumbMu      sync.Mutex
	thumbDecoder BaselineDecoder
}

// NewReader creates a Reader with the given options.
func NewReader(opts ...func(*Options)) *Reader {
	o := Options{
		ReadEmbeddedProfile: true,
		Warn:                func(msg string) { slog.Warn(msg) },
		NewDecoder:          func() BaselineDecoder { return NewStdDecoder() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Reader{
		opts:     o,
		delegate: o.NewDecoder(),
	}
}

// SetInput attaches the reader to a stream, invalidating all cached state
// from any previous input.
func (r *Reader) SetInput(rs io.ReadSeeker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	segments, err := ReadSegments(rs, r.opts.Warn)
	if err != nil {
		return fmt.Errorf("read stream header: %w", err)
	}
	if err := r.delegate.SetInput(rs); err != nil {
		return fmt.Errorf("delegate input: %w", err)
	}

	frame, _ := frameOf(segments)

	r.input = rs
	r.state = &streamState{segments: segments, frame: frame}
	return nil
}

func (r *Reader) loadState() (*streamState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, errors.New("no input set")
	}
	return r.state, nil
}

// NumImages reports the number of decodable images. A stream holding only
// tables (no frame) counts zero; a lossless frame counts one even though the
// delegate rejects it.
func (r *Reader) NumImages(ctx context.Context) (int, error) {
	s, err := r.loadState()
	if err != nil {
		return 0, err
	}

	if s.frame != nil && s.frame.Lossless() {
		return 1, nil
	}

	n, err := r.delegate.NumImages(ctx)
	if err != nil {
		if s.frame == nil {
			r.opts.Warn("Stream contains no image data, only tables")
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Width reports the pixel width of the image, from the frame header.
func (r *Reader) Width(index int) (int, error) {
	s, err := r.loadState()
	if err != nil {
		return 0, err
	}
	if err := checkIndex(index); err != nil {
		return 0, err
	}
	if s.frame == nil {
		return 0, errors.New("no SOF segment in stream")
	}
	return s.frame.SamplesPerLine, nil
}

// Height reports the pixel height of the image, from the frame header.
func (r *Reader) Height(index int) (int, error) {
	s, err := r.loadState()
	if err != nil {
		return 0, err
	}
	if err := checkIndex(index); err != nil {
		return 0, err
	}
	if s.frame == nil {
		return 0, errors.New("no SOF segment in stream")
	}
	return s.frame.Lines, nil
}

// SourceColorSpace resolves the color space of the encoded pixel data. An
// Adobe marker contradicting the frame's component count is ignored with one
// diagnostic.
func (r *Reader) SourceColorSpace() (ColorSpace, error) {
	s, err := r.loadState()
	if err != nil {
		return ColorSpaceUnknown, err
	}
	return r.resolveColorSpace(s)
}

func (r *Reader) resolveColorSpace(s *streamState) (ColorSpace, error) {
	s.csOnce.Do(func() {
		if s.frame == nil {
			s.csErr = errors.New("no SOF segment in stream")
			return
		}

		adobe := adobeOf(s.segments)
		s.adobeOK = AdobeConsistent(adobe, s.frame)
		if !s.adobeOK {
			r.opts.Warn(fmt.Sprintf(
				"Invalid Adobe APP14 marker. Indicates %s data, but SOF%d has %d color component(s). Ignoring Adobe APP14 marker.",
				adobeTransformName(adobe.Transform), s.frame.SOFMarker&0x0F, len(s.frame.Components),
			))
		}

		s.cs, s.csErr = ResolveColorSpace(jfifOf(s.segments), adobe, s.frame)
	})
	return s.cs, s.csErr
}

func adobeTransformName(t AdobeTransform) string {
	switch t {
	case AdobeTransformYCC:
		return "YCC"
	case AdobeTransformYCCK:
		return "YCCK"
	}
	return "Unknown"
}

// EmbeddedProfile returns the stream's reassembled ICC profile, or nil when
// there is none, it is disabled, or it was discarded as broken.
func (r *Reader) EmbeddedProfile() (*ICCProfile, error) {
	s, err := r.loadState()
	if err != nil {
		return nil, err
	}
	return r.embeddedProfile(s)
}

func (r *Reader) embeddedProfile(s *streamState) (*ICCProfile, error) {
	if !r.opts.ReadEmbeddedProfile {
		return nil, nil
	}
	s.profileOnce.Do(func() {
		s.profile, s.profileErr = extractICCProfile(
			iccChunksOf(s.segments), r.opts.AllowBadICCIndexes, r.opts.Warn,
		)
	})
	return s.profile, s.profileErr
}

// Read decodes one image, applying raster corrections when the stream's real
// color data does not match what the baseline decoder would assume.
func (r *Reader) Read(ctx context.Context, index int, param *ReadParam) (image.Image, error) {
	s, err := r.loadState()
	if err != nil {
		return nil, err
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}

	if s.frame != nil && s.frame.Lossless() {
		return r.readLossless(ctx, s, param)
	}

	cs, err := r.resolveColorSpace(s)
	if err != nil {
		return nil, err
	}
	profile, err := r.embeddedProfile(s)
	if err != nil {
		return nil, err
	}

	if r.needsCorrection(s, cs, profile) {
		img, err := r.readCorrected(ctx, s, index, cs, profile, param)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, ErrRawUnsupported) {
			return nil, err
		}
		r.opts.Warn(fmt.Sprintf("Raw decoding unavailable for %s stream, falling back to plain decoding", cs))
	}

	return r.delegate.Decode(ctx, index, param)
}

// needsCorrection is the decision rule for routing a decode through the raw
// raster path instead of trusting the delegate's own color handling.
func (r *Reader) needsCorrection(s *streamState, cs ColorSpace, profile *ICCProfile) bool {
	if !r.delegate.CanDecodeRaw() {
		return false
	}

	if !s.adobeOK {
		return true
	}
	if cs == ColorSpaceCMYK || cs == ColorSpaceYCCK {
		return true
	}
	if profile != nil && !profile.IsSRGB() {
		return true
	}
	if s.frame != nil && int64(s.frame.Lines)*int64(s.frame.SamplesPerLine) > math.MaxInt32 {
		return true
	}

	formats, err := r.delegate.OutputFormats(0)
	if err != nil || len(formats) == 0 {
		return true
	}
	if cs == ColorSpaceYCbCr || cs == ColorSpaceYCbCrAlpha {
		if _, ok := r.delegate.RawFormat(0); ok {
			return true
		}
	}
	return false
}

func (r *Reader) readCorrected(ctx context.Context, s *streamState, index int, cs ColorSpace, profile *ICCProfile, param *ReadParam) (image.Image, error) {
	raster, err := r.delegate.DecodeRaw(ctx, index, stripDestination(param))
	if err != nil {
		return nil, err
	}

	// A profile describing a different channel count than the frame cannot
	// apply to this pixel data; discard it rather than failing the decode.
	// Gray data needs no profile transform here, the delegate compensates.
	profileDiscarded := false
	if profile != nil && cs != ColorSpaceGray && cs != ColorSpaceGrayAlpha {
		if n := profile.NumComponents(); n != 0 && n != len(s.frame.Components) {
			r.opts.Warn(fmt.Sprintf(
				"Embedded ICC color profile is incompatible with image data, ignoring profile (profile has %d components, image has %d)",
				n, len(s.frame.Components),
			))
			profile = nil
			profileDiscarded = true
		}
	}
	if profile == nil && !profileDiscarded && (cs == ColorSpaceCMYK || cs == ColorSpaceYCCK) {
		r.opts.Warn("No embedded ICC color profile, using generic CMYK conversion")
	}

	out := cs
	switch cs {
	case ColorSpaceYCbCr, ColorSpacePhotoYCC:
		if err := ConvertYCbCrToRGB(raster); err != nil {
			return nil, err
		}
		out = ColorSpaceRGB
	case ColorSpaceYCbCrAlpha, ColorSpacePhotoYCCAlpha:
		if err := ConvertYCbCrToRGB(raster); err != nil {
			return nil, err
		}
		out = ColorSpaceRGBA
	case ColorSpaceYCCK:
		if err := ConvertYCCKToCMYK(raster); err != nil {
			return nil, err
		}
		out = ColorSpaceCMYK
	case ColorSpaceCMYK:
		InvertCMYK(raster)
	}

	img, err := raster.ToImage(out, r.fastCMYK())
	if err != nil {
		return nil, err
	}

	if param != nil && param.Destination != nil {
		compositeInto(param.Destination, param.DestOffset, img)
		return param.Destination, nil
	}
	return img, nil
}

func (r *Reader) fastCMYK() bool {
	return r.opts.FastCMYK || !r.opts.ColorManagement
}

// stripDestination removes destination compositing from a param so the raw
// raster can be corrected before pixels land in the caller's image.
func stripDestination(param *ReadParam) *ReadParam {
	if param == nil || param.Destination == nil {
		return param
	}
	p := *param
	p.Destination = nil
	p.DestOffset = image.Point{}
	return &p
}

func (r *Reader) readLossless(ctx context.Context, s *streamState, param *ReadParam) (image.Image, error) {
	raster, gray16, err := r.decodeLossless(ctx, s)
	if err != nil {
		return nil, err
	}

	var img image.Image
	if gray16 != nil {
		img = gray16
	} else {
		raster = subsetRaster(raster, stripDestination(param))

		cs, err := r.resolveColorSpace(s)
		if err != nil {
			return nil, err
		}
		img, err = raster.ToImage(cs, r.fastCMYK())
		if err != nil {
			return nil, err
		}
		// The raw samples are already in the output order for these
		// spaces; no inversion applies to lossless data.
	}

	if param != nil && param.Destination != nil {
		compositeInto(param.Destination, param.DestOffset, img)
		return param.Destination, nil
	}
	return img, nil
}

func (r *Reader) decodeLossless(ctx context.Context, _ *streamState) (*Raster, *image.Gray16, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	rs := r.input
	r.mu.Unlock()

	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Seek(pos, io.SeekStart) //nolint:errcheck

	return decodeLosslessRaster(rs)
}

// ReadRaster decodes one image into untouched source-space samples, with no
// corrections applied.
func (r *Reader) ReadRaster(ctx context.Context, index int, param *ReadParam) (*Raster, error) {
	s, err := r.loadState()
	if err != nil {
		return nil, err
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}

	if s.frame != nil && s.frame.Lossless() {
		raster, gray16, err := r.decodeLossless(ctx, s)
		if err != nil {
			return nil, err
		}
		if gray16 != nil {
			return nil, fmt.Errorf("%w: 16 bit samples", ErrRawUnsupported)
		}
		return subsetRaster(raster, param), nil
	}

	return r.delegate.DecodeRaw(ctx, index, param)
}

// Thumbnails enumerates the embedded thumbnails of the image, in source
// order: JFIF raster, JFXX, Exif IFD1.
func (r *Reader) Thumbnails(index int) ([]Thumbnail, error) {
	s, err := r.loadState()
	if err != nil {
		return nil, err
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}

	s.thumbsOnce.Do(func() {
		s.thumbs = extractThumbnails(s.segments, r.decodeEmbeddedJPEG, r.opts.Warn)
	})
	return s.thumbs, nil
}

// decodeEmbeddedJPEG decodes thumbnail payloads through one lazily created
// sub-decoder shared across all of the reader's thumbnails.
func (r *Reader) decodeEmbeddedJPEG(ctx context.Context, data []byte) (image.Image, error) {
	r.thumbMu.Lock()
	defer r.thumbMu.Unlock()

	if r.thumbDecoder == nil {
		r.thumbDecoder = r.opts.NewDecoder()
	}
	if err := r.thumbDecoder.SetInput(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return r.thumbDecoder.Decode(ctx, 0, nil)
}

// Abort requests that in-flight decodes stop early.
func (r *Reader) Abort() {
	r.delegate.Abort()

	r.thumbMu.Lock()
	if r.thumbDecoder != nil {
		r.thumbDecoder.Abort()
	}
	r.thumbMu.Unlock()
}

// Close releases the reader's cached state and the shared thumbnail decoder.
// The reader can be reused after another SetInput.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.input = nil
	r.state = nil
	r.mu.Unlock()

	r.thumbMu.Lock()
	r.thumbDecoder = nil
	r.thumbMu.Unlock()
	return nil
}
