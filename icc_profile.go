package jpegfix

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ICC header field offsets and signatures (ICC.1:2022, clause 7.2).
const (
	iccHdrSize            = 128
	iccHdrDeviceClass     = 12
	iccHdrColorSpace      = 16
	iccHdrRenderingIntent = 64
	iccHdrSignature       = 36

	iccSigAcsp         = 0x61637370 // 'acsp'
	iccSigDisplayClass = 0x6D6E7472 // 'mntr'

	iccIntentPerceptual = 0
)

// ICCProfile is a validated embedded color profile. The raw bytes are owned
// by the profile; mutating normalizations operate on a copy.
type ICCProfile struct {
	data []byte
}

// ParseICCProfile validates the header and tag table of a raw profile blob.
func ParseICCProfile(data []byte) (*ICCProfile, error) {
	if len(data) < iccHdrSize+4 {
		return nil, errors.New("profile too short")
	}
	if binary.BigEndian.Uint32(data[iccHdrSignature:]) != iccSigAcsp {
		return nil, errors.New("missing 'acsp' profile signature")
	}
	size := int(binary.BigEndian.Uint32(data[0:4]))
	if size < iccHdrSize+4 || size > len(data) {
		return nil, fmt.Errorf("declared profile size %d out of range", size)
	}
	tagCount := int(binary.BigEndian.Uint32(data[iccHdrSize:]))
	if iccHdrSize+4+12*tagCount > size {
		return nil, fmt.Errorf("tag table with %d entries exceeds profile size", tagCount)
	}
	for i := 0; i < tagCount; i++ {
		entry := data[iccHdrSize+4+12*i:]
		off := int(binary.BigEndian.Uint32(entry[4:8]))
		n := int(binary.BigEndian.Uint32(entry[8:12]))
		if off < 0 || n < 0 || off+n > size {
			return nil, fmt.Errorf("tag %d data out of range", i)
		}
	}
	return &ICCProfile{data: data}, nil
}

// Data returns the raw profile bytes. Callers must not mutate them.
func (p *ICCProfile) Data() []byte { return p.data }

// DeviceClass returns the profile/device class signature (e.g. 'mntr').
func (p *ICCProfile) DeviceClass() uint32 {
	return binary.BigEndian.Uint32(p.data[iccHdrDeviceClass:])
}

// RenderingIntent returns the header rendering intent (0 is perceptual).
func (p *ICCProfile) RenderingIntent() uint32 {
	return binary.BigEndian.Uint32(p.data[iccHdrRenderingIntent:])
}

// ColorSpaceSignature returns the data color space signature (e.g. 'CMYK').
func (p *ICCProfile) ColorSpaceSignature() uint32 {
	return binary.BigEndian.Uint32(p.data[iccHdrColorSpace:])
}

// NumComponents returns the component count implied by the profile's data
// color space, or 0 if the space is not recognized.
func (p *ICCProfile) NumComponents() int {
	switch p.ColorSpaceSignature() {
	case 0x47524159: // 'GRAY'
		return 1
	case 0x32434C52: // '2CLR'
		return 2
	case 0x52474220, // 'RGB '
		0x58595A20, // 'XYZ '
		0x4C616220, // 'Lab '
		0x4C757620, // 'Luv '
		0x59436272, // 'YCbr'
		0x59787920, // 'Yxy '
		0x48535620, // 'HSV '
		0x484C5320, // 'HLS '
		0x434D5920, // 'CMY '
		0x33434C52: // '3CLR'
		return 3
	case 0x434D594B, // 'CMYK'
		0x34434C52: // '4CLR'
		return 4
	}
	return 0
}

// IsSRGB reports whether the profile looks like a standard sRGB profile.
// Simple heuristic: enough for common camera/jpeg workflows.
func (p *ICCProfile) IsSRGB() bool {
	if p.ColorSpaceSignature() != 0x52474220 { // 'RGB '
		return false
	}
	return bytes.Contains(bytes.ToLower(p.data), []byte("srgb"))
}

// ensureDisplayProfile rewrites a non-display profile whose rendering intent
// is perceptual to the display class, on an owned copy of the bytes. Other
// non-display profiles are returned unchanged for the caller to reject
// downstream.
func ensureDisplayProfile(p *ICCProfile, warn func(string)) *ICCProfile {
	if p == nil || p.DeviceClass() == iccSigDisplayClass {
		return p
	}
	if p.RenderingIntent() != iccIntentPerceptual {
		return p
	}

	warn("ICC profile is Perceptual, ignoring, treating as Display class")

	data := append([]byte(nil), p.data...)
	binary.BigEndian.PutUint32(data[iccHdrDeviceClass:], iccSigDisplayClass)
	return &ICCProfile{data: data}
}

// extractICCProfile reassembles and validates an embedded profile from the
// stream's ICC_PROFILE chunks. It fails soft: a bad chunk set or unparseable
// profile is discarded with one diagnostic and a nil result. The only hard
// error is a per-chunk chunk-count mismatch in an otherwise well-indexed set.
//
// With allowBadIndexes, badly indexed chunk sets are assembled in physical
// segment order instead of being discarded, and class normalization and
// validation are skipped.
func extractICCProfile(chunks []*ICCChunk, allowBadIndexes bool, warn func(string)) (*ICCProfile, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	if len(chunks) == 1 {
		// Fast path for the common case.
		c := chunks[0]
		if c.ChunkNumber != 1 || c.ChunkCount != 1 {
			warn(fmt.Sprintf("Unexpected number of 'ICC_PROFILE' chunks: %d of %d. Ignoring ICC profile.", c.ChunkNumber, c.ChunkCount))
			if !allowBadIndexes {
				return nil, nil
			}
		}
		return parseICCProfileSafe(c.Data, allowBadIndexes, warn), nil
	}

	declared := chunks[0].ChunkCount

	bad := false
	if declared != len(chunks) {
		// Some writers use 0-based indexes, others declare count 1 for
		// every chunk. Fall back to physical order if tolerated.
		warn(fmt.Sprintf("Bad 'ICC_PROFILE' chunk count: %d. Ignoring ICC profile.", declared))
		bad = true
	}
	if !bad {
		for _, c := range chunks {
			if c.ChunkNumber < 1 || c.ChunkNumber > declared {
				warn(fmt.Sprintf("Invalid 'ICC_PROFILE' chunk index: %d. Ignoring ICC profile.", c.ChunkNumber))
				bad = true
				break
			}
		}
	}
	if bad && !allowBadIndexes {
		return nil, nil
	}

	var (
		slots [][]byte
		total int
	)
	if bad {
		slots = make([][]byte, len(chunks))
		for i, c := range chunks {
			slots[i] = c.Data
			total += len(c.Data)
		}
	} else {
		slots = make([][]byte, declared)
		for _, c := range chunks {
			if c.ChunkCount != declared {
				return nil, fmt.Errorf("bad number of 'ICC_PROFILE' chunks: %d of %d", c.ChunkNumber, c.ChunkCount)
			}
			slots[c.ChunkNumber-1] = c.Data
			total += len(c.Data)
		}
	}

	data := make([]byte, 0, total)
	for _, s := range slots {
		data = append(data, s...)
	}

	return parseICCProfileSafe(data, allowBadIndexes, warn), nil
}

func parseICCProfileSafe(data []byte, allowBadProfile bool, warn func(string)) *ICCProfile {
	p, err := ParseICCProfile(data)
	if err != nil {
		// Usual reason: broken tools store truncated profiles in a
		// single ICC_PROFILE chunk.
		warn(fmt.Sprintf("Bad 'ICC_PROFILE' chunk(s): %v. Ignoring ICC profile.", err))
		return nil
	}
	if allowBadProfile {
		return p
	}
	return ensureDisplayProfile(p, warn)
}
