// Package jpegfix decodes JPEG streams that trip up a plain baseline decoder.
//
// It classifies the true pixel color space of a stream (component-ID
// heuristics, Adobe APP14 transform flags, JFIF/Exif/Adobe marker conflicts),
// repairs or discards incompatible embedded ICC profiles, applies pixel-level
// color corrections when the baseline decoder cannot, decodes lossless
// (SOF3, predictive) frames the baseline decoder does not support, and
// unifies JFIF, JFXX and Exif thumbnails into one addressable sequence.
//
// Baseline entropy/DCT decoding itself is delegated to an injected
// BaselineDecoder capability.
package jpegfix
