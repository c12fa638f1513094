package jpegfix

import "fmt"

// ResolveColorSpace infers the logical color space of the encoded pixel data
// from the JFIF and Adobe markers (either may be nil) and the frame header.
//
// The rules follow the usual JPEG conventions: an Adobe APP14 transform flag
// wins when its implied component count matches the frame; otherwise the
// component IDs are consulted ({1,2,3} for YCbCr, ASCII 'R','G','B' and
// friends for the rest); otherwise subsampling and JFIF presence decide.
//
// An Adobe marker whose transform contradicts the frame's component count is
// treated as absent; use AdobeConsistent to detect that case and warn.
func ResolveColorSpace(jfif *JFIF, adobe *AdobeDCT, frame *Frame) (ColorSpace, error) {
	n := len(frame.Components)

	if adobe != nil {
		switch adobe.Transform {
		case AdobeTransformYCC:
			if n == 3 {
				return ColorSpaceYCbCr, nil
			}
			// Bogus marker, fall through to the heuristics.
		case AdobeTransformYCCK:
			if n == 4 {
				return ColorSpaceYCCK, nil
			}
		case AdobeTransformUnknown:
			switch n {
			case 1:
				return ColorSpaceGray, nil
			case 3:
				return ColorSpaceRGB, nil
			case 4:
				return ColorSpaceCMYK, nil
			}
		}
	}

	switch n {
	case 1:
		return ColorSpaceGray, nil
	case 2:
		return ColorSpaceGrayAlpha, nil
	case 3:
		ids := [3]byte{frame.Components[0].ID, frame.Components[1].ID, frame.Components[2].ID}
		switch ids {
		case [3]byte{1, 2, 3}:
			return ColorSpaceYCbCr, nil
		case [3]byte{'R', 'G', 'B'}:
			return ColorSpaceRGB, nil
		case [3]byte{'Y', 'C', 'c'}:
			return ColorSpacePhotoYCC, nil
		}
		if subsampled(frame) {
			return ColorSpaceYCbCr, nil
		}
		if jfif != nil {
			return ColorSpaceYCbCr, nil
		}
		return ColorSpaceRGB, nil
	case 4:
		ids := [4]byte{frame.Components[0].ID, frame.Components[1].ID, frame.Components[2].ID, frame.Components[3].ID}
		switch ids {
		case [4]byte{1, 2, 3, 4}:
			return ColorSpaceYCbCrAlpha, nil
		case [4]byte{'R', 'G', 'B', 'A'}:
			return ColorSpaceRGBA, nil
		case [4]byte{'Y', 'C', 'c', 'A'}:
			return ColorSpacePhotoYCCAlpha, nil
		case [4]byte{'C', 'M', 'Y', 'K'}:
			return ColorSpaceCMYK, nil
		case [4]byte{'Y', 'C', 'c', 'K'}:
			return ColorSpaceYCCK, nil
		}
		if subsampled(frame) {
			return ColorSpaceYCCK, nil
		}
		return ColorSpaceCMYK, nil
	}

	return ColorSpaceUnknown, fmt.Errorf("cannot determine source color space for %d component(s)", n)
}

// AdobeConsistent reports whether the Adobe transform flag agrees with the
// frame's component count (YCC implies 3 components, YCCK implies 4).
// An inconsistent marker should be ignored with a diagnostic.
func AdobeConsistent(adobe *AdobeDCT, frame *Frame) bool {
	if adobe == nil {
		return true
	}
	n := len(frame.Components)
	switch adobe.Transform {
	case AdobeTransformYCC:
		return n == 3
	case AdobeTransformYCCK:
		return n == 4
	}
	return true
}

func subsampled(frame *Frame) bool {
	for _, c := range frame.Components {
		if c.HSub != 1 || c.VSub != 1 {
			return true
		}
	}
	return false
}
