package jpegfix

import "fmt"

// ColorSpace identifies the logical color space of the encoded pixel data,
// as opposed to the nominal color space the stream metadata claims.
type ColorSpace int

const (
	ColorSpaceUnknown ColorSpace = iota
	ColorSpaceGray
	ColorSpaceGrayAlpha
	ColorSpaceRGB
	ColorSpaceRGBA
	ColorSpaceYCbCr
	ColorSpaceYCbCrAlpha
	ColorSpacePhotoYCC
	ColorSpacePhotoYCCAlpha
	ColorSpaceCMYK
	ColorSpaceYCCK
)

func (cs ColorSpace) String() string {
	switch cs {
	case ColorSpaceGray:
		return "Gray"
	case ColorSpaceGrayAlpha:
		return "GrayAlpha"
	case ColorSpaceRGB:
		return "RGB"
	case ColorSpaceRGBA:
		return "RGBA"
	case ColorSpaceYCbCr:
		return "YCbCr"
	case ColorSpaceYCbCrAlpha:
		return "YCbCrAlpha"
	case ColorSpacePhotoYCC:
		return "PhotoYCC"
	case ColorSpacePhotoYCCAlpha:
		return "PhotoYCCAlpha"
	case ColorSpaceCMYK:
		return "CMYK"
	case ColorSpaceYCCK:
		return "YCCK"
	}
	return fmt.Sprintf("ColorSpace(%d)", int(cs))
}

// AdobeTransform is the transform flag of an Adobe APP14 segment.
type AdobeTransform int

const (
	AdobeTransformUnknown AdobeTransform = 0
	AdobeTransformYCC     AdobeTransform = 1
	AdobeTransformYCCK    AdobeTransform = 2
)

// Segment is one decoded marker unit from the stream header.
// Concrete types are *Frame, *AdobeDCT, *JFIF, *JFXX, *ICCChunk, *ExifData,
// *AppSegment and *UnknownSegment; dispatch with a type switch.
type Segment interface {
	// Marker returns the second marker byte (e.g. 0xC0 for SOF0).
	Marker() byte
}

// Component describes one color component of a frame.
type Component struct {
	ID   byte
	HSub int // horizontal sampling factor
	VSub int // vertical sampling factor
	Tq   byte // quantization table selector
}

// Frame is the SOFn segment: pixel geometry and per-component sampling.
type Frame struct {
	SOFMarker      byte
	Precision      int
	Lines          int
	SamplesPerLine int
	Components     []Component
}

func (f *Frame) Marker() byte { return f.SOFMarker }

// Lossless reports whether the frame uses the lossless (predictive) process,
// which baseline decoders cannot handle at all.
func (f *Frame) Lossless() bool { return f.SOFMarker == markerSOF3 }

// AdobeDCT is the Adobe APP14 segment.
type AdobeDCT struct {
	Version   int
	Flags0    int
	Flags1    int
	Transform AdobeTransform
}

func (a *AdobeDCT) Marker() byte { return markerAPP14 }

// JFIF is the APP0 "JFIF" segment. Thumbnail, if any, is packed RGB,
// XThumbnail*YThumbnail*3 bytes.
type JFIF struct {
	MajorVersion int
	MinorVersion int
	Units        int
	XDensity     int
	YDensity     int
	XThumbnail   int
	YThumbnail   int
	Thumbnail    []byte
}

func (j *JFIF) Marker() byte { return markerAPP0 }

// JFXX extension codes.
const (
	JFXXJPEG    = 0x10
	JFXXIndexed = 0x11
	JFXXRGB     = 0x12
)

// JFXX is the APP0 "JFXX" extension segment carrying a thumbnail.
type JFXX struct {
	ExtensionCode int
	Thumbnail     []byte
}

func (j *JFXX) Marker() byte { return markerAPP0 }

// ICCChunk is one APP2 "ICC_PROFILE" segment of a possibly chunked profile.
type ICCChunk struct {
	ChunkNumber int
	ChunkCount  int
	Data        []byte
}

func (c *ICCChunk) Marker() byte { return markerAPP2 }

// ExifData is the APP1 "Exif" segment payload (TIFF structure, including the
// byte-order header, without the identifier and pad byte).
type ExifData struct {
	Data []byte
}

func (e *ExifData) Marker() byte { return markerAPP1 }

// AppSegment is any other APPn segment, kept with its ASCII identifier.
type AppSegment struct {
	AppMarker  byte
	Identifier string
	Data       []byte
}

func (a *AppSegment) Marker() byte { return a.AppMarker }

// UnknownSegment records a structural segment the catalog does not interpret.
type UnknownSegment struct {
	SegMarker byte
	Length    int
}

func (u *UnknownSegment) Marker() byte { return u.SegMarker }
