package jpegfix

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Exif/TIFF tags used for thumbnail discovery in IFD1.
const (
	tagImageWidth                  = 0x0100
	tagImageLength                 = 0x0101
	tagCompression                 = 0x0103
	tagPhotometricInterpretation   = 0x0106
	tagStripOffsets                = 0x0111
	tagJPEGInterchangeFormat       = 0x0201
	tagJPEGInterchangeFormatLength = 0x0202
)

const (
	compressionNone = 1
	compressionJPEG = 6
)

// tiffDirectory is one parsed IFD. Entries are keyed by tag; values are read
// on demand against the full TIFF blob so offset-valued entries resolve.
type tiffDirectory struct {
	order   binary.ByteOrder
	data    []byte
	entries map[uint16]tiffEntry
}

type tiffEntry struct {
	typ   uint16
	count uint32
	value []byte // raw 4-byte value field
}

// parseTIFF reads the TIFF header and walks the IFD0 chain, returning every
// linked directory in order. Sub-IFDs (Exif, GPS) are not followed; thumbnail
// discovery only needs the chain.
func parseTIFF(data []byte) ([]*tiffDirectory, error) {
	if len(data) < 8 {
		return nil, errors.New("truncated TIFF header")
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad TIFF byte order mark %q", data[0:2])
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errors.New("bad TIFF magic")
	}

	var dirs []*tiffDirectory
	offset := int(order.Uint32(data[4:8]))
	for offset != 0 {
		if offset < 8 || offset+2 > len(data) {
			return nil, fmt.Errorf("IFD offset %d out of range", offset)
		}
		n := int(order.Uint16(data[offset : offset+2]))
		end := offset + 2 + 12*n
		if end+4 > len(data) {
			return nil, fmt.Errorf("IFD at %d with %d entries out of range", offset, n)
		}

		dir := &tiffDirectory{
			order:   order,
			data:    data,
			entries: make(map[uint16]tiffEntry, n),
		}
		for i := 0; i < n; i++ {
			e := data[offset+2+12*i : offset+2+12*(i+1)]
			dir.entries[order.Uint16(e[0:2])] = tiffEntry{
				typ:   order.Uint16(e[2:4]),
				count: order.Uint32(e[4:8]),
				value: e[8:12],
			}
		}
		dirs = append(dirs, dir)

		// Chains in the wild are sometimes circular. One extra directory
		// past IFD1 is already more than Exif allows, so cap hard.
		if len(dirs) > 8 {
			return nil, errors.New("IFD chain too long")
		}

		offset = int(order.Uint32(data[end : end+4]))
	}
	return dirs, nil
}

// uintValue returns the first value of a SHORT or LONG entry.
func (d *tiffDirectory) uintValue(tag uint16) (uint32, bool) {
	e, ok := d.entries[tag]
	if !ok || e.count == 0 {
		return 0, false
	}
	switch e.typ {
	case 3: // SHORT
		if e.count > 2 {
			// Values live at an offset when they exceed 4 bytes.
			off := int(d.order.Uint32(e.value))
			if off+2 > len(d.data) {
				return 0, false
			}
			return uint32(d.order.Uint16(d.data[off : off+2])), true
		}
		return uint32(d.order.Uint16(e.value[0:2])), true
	case 4: // LONG
		if e.count > 1 {
			off := int(d.order.Uint32(e.value))
			if off+4 > len(d.data) {
				return 0, false
			}
			return d.order.Uint32(d.data[off : off+4]), true
		}
		return d.order.Uint32(e.value), true
	}
	return 0, false
}
