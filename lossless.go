package jpegfix

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// Lossless (predictive, ITU-T T.81 Annex H) decoding. Baseline decoders
// reject SOF3 streams outright, so this path is self-contained: it scans the
// markers itself and entropy-decodes the single scan.
//
// Supported: predictors 1-7, point transform, restart intervals, 2-16 bit
// precision, 1-4 components without subsampling. Grayscale output is
// image.Gray or image.Gray16; multi-component output is an interleaved
// 8-bit Raster in the source color space.

type losslessDecoder struct {
	r io.Reader

	precision  int
	height     int
	width      int
	components []Component

	dcTables [4]*huffmanTable
	tableFor []int // per component, set by SOS

	predictor       int
	pointTrans      int
	restartInterval int

	// Entropy-coded segment bit state.
	bits   uint32
	nBits  int
	marker byte // pending marker seen while filling bits
}

type huffmanTable struct {
	bits   [17]int
	values []byte
	codes  []uint16
	sizes  []int
	lookup [256]int16 // size<<8 | value for codes up to 8 bits, -1 otherwise
}

// DecodeLossless decodes a lossless JPEG stream into an image. Multi
// component streams come back as RGBA with the source samples mapped through
// ToImage semantics; use decodeLosslessRaster for untouched samples.
func DecodeLossless(r io.Reader) (image.Image, error) {
	d := &losslessDecoder{r: r}
	raster, gray16, err := d.decode()
	if err != nil {
		return nil, err
	}
	if gray16 != nil {
		return gray16, nil
	}

	switch raster.Channels {
	case 1:
		img := image.NewGray(image.Rect(0, 0, raster.Width, raster.Height))
		copy(img.Pix, raster.Pix)
		return img, nil
	default:
		return raster.ToImage(ColorSpaceRGB, false)
	}
}

// decodeLosslessRaster decodes a lossless stream into an interleaved raster
// of untouched source-space samples. Precision above 8 bits is only carried
// for single-component streams, as a Gray16 image.
func decodeLosslessRaster(r io.Reader) (*Raster, *image.Gray16, error) {
	d := &losslessDecoder{r: r}
	return d.decode()
}

func (d *losslessDecoder) decode() (*Raster, *image.Gray16, error) {
	var soi [2]byte
	if _, err := io.ReadFull(d.r, soi[:]); err != nil {
		return nil, nil, err
	}
	if soi[0] != markerStart || soi[1] != markerSOI {
		return nil, nil, ErrNotJPEG
	}

	for {
		marker, err := d.readMarker()
		if err != nil {
			return nil, nil, err
		}

		switch {
		case marker == markerSOF3:
			if err := d.readSOF(); err != nil {
				return nil, nil, err
			}
		case isSOF(marker):
			return nil, nil, fmt.Errorf("not a lossless stream: SOF%d", marker&0x0F)
		case marker == markerDHT:
			if err := d.readDHT(); err != nil {
				return nil, nil, err
			}
		case marker == markerDRI:
			if err := d.readDRI(); err != nil {
				return nil, nil, err
			}
		case marker == markerSOS:
			if err := d.readSOS(); err != nil {
				return nil, nil, err
			}
			return d.decodeScan()
		case marker == markerEOI:
			return nil, nil, errors.New("unexpected EOI before scan")
		default:
			if err := d.skipSegment(); err != nil {
				return nil, nil, err
			}
		}
	}
}

func (d *losslessDecoder) readMarker() (byte, error) {
	return nextMarker(d.r)
}

func (d *losslessDecoder) readSegment() ([]byte, error) {
	length, err := readSegmentLength(d.r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *losslessDecoder) skipSegment() error {
	length, err := readSegmentLength(d.r)
	if err != nil {
		return err
	}
	_, err = io.CopyN(io.Discard, d.r, int64(length))
	return err
}

func (d *losslessDecoder) readSOF() error {
	data, err := d.readSegment()
	if err != nil {
		return err
	}
	frame, err := parseFrame(markerSOF3, data)
	if err != nil {
		return err
	}

	d.precision = frame.Precision
	d.height = frame.Lines
	d.width = frame.SamplesPerLine
	d.components = frame.Components
	d.tableFor = make([]int, len(frame.Components))

	if d.precision < 2 || d.precision > 16 {
		return fmt.Errorf("unsupported sample precision %d", d.precision)
	}
	if d.width == 0 || d.height == 0 {
		return errors.New("zero frame dimensions")
	}
	for _, c := range d.components {
		if c.HSub != 1 || c.VSub != 1 {
			return errors.New("subsampled lossless streams not supported")
		}
	}
	if n := len(d.components); n < 1 || n > 4 {
		return fmt.Errorf("unsupported component count %d", n)
	}
	if d.precision > 8 && len(d.components) != 1 {
		return errors.New("high precision only supported for grayscale")
	}
	return nil
}

func (d *losslessDecoder) readDHT() error {
	data, err := d.readSegment()
	if err != nil {
		return err
	}

	for offset := 0; offset < len(data); {
		if offset+17 > len(data) {
			return errors.New("truncated DHT segment")
		}
		class := int(data[offset] >> 4)
		id := int(data[offset] & 0x0F)
		offset++

		var count int
		for i := 0; i < 16; i++ {
			count += int(data[offset+i])
		}
		if offset+16+count > len(data) {
			return errors.New("truncated DHT segment")
		}

		if class != 0 {
			// AC tables are meaningless here, skip.
			offset += 16 + count
			continue
		}
		if id >= 4 {
			return fmt.Errorf("invalid Huffman table ID %d", id)
		}

		ht := &huffmanTable{}
		for i := 0; i < 16; i++ {
			ht.bits[i+1] = int(data[offset+i])
		}
		offset += 16
		ht.values = append([]byte(nil), data[offset:offset+count]...)
		offset += count

		generateHuffmanCodes(ht)
		d.dcTables[id] = ht
	}
	return nil
}

func generateHuffmanCodes(ht *huffmanTable) {
	var total int
	for i := 1; i <= 16; i++ {
		total += ht.bits[i]
	}

	ht.codes = make([]uint16, total)
	ht.sizes = make([]int, total)

	k := 0
	for i := 1; i <= 16; i++ {
		for j := 0; j < ht.bits[i]; j++ {
			ht.sizes[k] = i
			k++
		}
	}

	if total == 0 {
		for i := range ht.lookup {
			ht.lookup[i] = -1
		}
		return
	}

	code := uint16(0)
	si := ht.sizes[0]
	for k := 0; k < total; k++ {
		for ht.sizes[k] > si {
			code <<= 1
			si++
		}
		ht.codes[k] = code
		code++
	}

	for i := range ht.lookup {
		ht.lookup[i] = -1
	}
	for k := 0; k < total; k++ {
		size := ht.sizes[k]
		if size <= 8 {
			first := ht.codes[k] << (8 - size)
			for i := 0; i < 1<<(8-size); i++ {
				ht.lookup[int(first)+i] = int16(size)<<8 | int16(ht.values[k])
			}
		}
	}
}

func (d *losslessDecoder) readDRI() error {
	data, err := d.readSegment()
	if err != nil {
		return err
	}
	if len(data) < 2 {
		return errors.New("truncated DRI segment")
	}
	d.restartInterval = int(data[0])<<8 | int(data[1])
	return nil
}

func (d *losslessDecoder) readSOS() error {
	data, err := d.readSegment()
	if err != nil {
		return err
	}
	if len(data) < 1 {
		return errors.New("truncated SOS segment")
	}
	n := int(data[0])
	if n != len(d.components) {
		return fmt.Errorf("scan has %d components, frame has %d", n, len(d.components))
	}
	if len(data) < 1+2*n+3 {
		return errors.New("truncated SOS segment")
	}

	for i := 0; i < n; i++ {
		selector := data[1+2*i]
		mapping := data[2+2*i]

		found := false
		for j, c := range d.components {
			if c.ID == selector {
				d.tableFor[j] = int(mapping >> 4)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("scan selects unknown component %d", selector)
		}
	}

	d.predictor = int(data[1+2*n])
	d.pointTrans = int(data[3+2*n] & 0x0F)

	if d.predictor < 1 || d.predictor > 7 {
		return fmt.Errorf("invalid predictor %d", d.predictor)
	}
	return nil
}

func (d *losslessDecoder) decodeScan() (*Raster, *image.Gray16, error) {
	numComp := len(d.components)
	maxVal := (1 << d.precision) - 1

	// Row buffers per component, previous and current.
	prev := make([][]int, numComp)
	cur := make([][]int, numComp)
	for c := 0; c < numComp; c++ {
		prev[c] = make([]int, d.width)
		cur[c] = make([]int, d.width)
	}

	var (
		raster *Raster
		gray16 *image.Gray16
	)
	if d.precision > 8 {
		gray16 = image.NewGray16(image.Rect(0, 0, d.width, d.height))
	} else {
		raster = NewRaster(d.width, d.height, numComp)
	}

	mcusUntilRestart := d.restartInterval
	restartsSeen := 0

	// Interval origin: the first sample of the scan, and of each restart
	// interval, predicts from the midpoint default; the rest of that line
	// predicts from the left.
	intervalX, intervalY := 0, 0

	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			for c := 0; c < numComp; c++ {
				ht := d.dcTables[d.tableFor[c]]
				if ht == nil {
					return nil, nil, fmt.Errorf("no Huffman table %d", d.tableFor[c])
				}

				ssss, err := d.decodeHuffman(ht)
				if err != nil {
					return nil, nil, err
				}

				var diff int
				switch {
				case ssss == 0:
					diff = 0
				case ssss == 16:
					diff = 32768
				case ssss > 16:
					return nil, nil, fmt.Errorf("invalid magnitude category %d", ssss)
				default:
					v, err := d.receiveBits(ssss)
					if err != nil {
						return nil, nil, err
					}
					diff = extend(v, ssss)
				}

				px := d.predict(prev[c], cur[c], x, y, intervalX, intervalY)
				val := (px + diff) & 0xFFFF & maxVal
				cur[c][x] = val

				if gray16 != nil {
					i := y*gray16.Stride + x*2
					gray16.Pix[i] = byte(val >> 8)
					gray16.Pix[i+1] = byte(val)
				} else {
					shifted := val << d.pointTrans
					if shifted > 255 {
						shifted = 255
					}
					raster.Pix[(y*d.width+x)*numComp+c] = byte(shifted)
				}
			}

			if d.restartInterval > 0 {
				mcusUntilRestart--
				if mcusUntilRestart == 0 && !(y == d.height-1 && x == d.width-1) {
					if err := d.syncRestart(restartsSeen); err != nil {
						return nil, nil, err
					}
					restartsSeen++
					mcusUntilRestart = d.restartInterval

					intervalX, intervalY = x+1, y
					if intervalX == d.width {
						intervalX, intervalY = 0, y+1
					}
				}
			}
		}
		prev, cur = cur, prev
	}

	if gray16 != nil && d.pointTrans > 0 {
		for i := 0; i < len(gray16.Pix); i += 2 {
			v := (int(gray16.Pix[i])<<8 | int(gray16.Pix[i+1])) << d.pointTrans
			if v > 0xFFFF {
				v = 0xFFFF
			}
			gray16.Pix[i] = byte(v >> 8)
			gray16.Pix[i+1] = byte(v)
		}
	}

	return raster, gray16, nil
}

// predict computes Px for the sample at (x, y). The first sample of the scan
// and of each restart interval uses the midpoint default, the rest of that
// line predicts from the left, later line starts predict from above, and
// everything else uses the selected predictor.
func (d *losslessDecoder) predict(prevRow, curRow []int, x, y, intervalX, intervalY int) int {
	if x == intervalX && y == intervalY {
		return 1 << (d.precision - d.pointTrans - 1)
	}
	if y == intervalY {
		return curRow[x-1]
	}
	if x == 0 {
		return prevRow[0]
	}

	a := curRow[x-1]  // left
	b := prevRow[x]   // above
	c := prevRow[x-1] // above left

	switch d.predictor {
	case 1:
		return a
	case 2:
		return b
	case 3:
		return c
	case 4:
		return a + b - c
	case 5:
		return a + (b-c)/2
	case 6:
		return b + (a-c)/2
	case 7:
		return (a + b) / 2
	}
	return 0
}

func extend(v, t int) int {
	if v < 1<<(t-1) {
		return v - (1 << t) + 1
	}
	return v
}

// fillBits tops up the bit buffer, unstuffing 0xFF00 and stopping at a real
// marker.
func (d *losslessDecoder) fillBits(need int) error {
	for d.nBits < need {
		if d.marker != 0 {
			return fmt.Errorf("hit marker 0x%02X inside entropy data", d.marker)
		}

		var buf [1]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return err
		}
		b := buf[0]
		if b == markerStart {
			if _, err := io.ReadFull(d.r, buf[:]); err != nil {
				return err
			}
			switch {
			case buf[0] == 0x00:
				// Stuffed 0xFF data byte.
			case buf[0] == markerStart:
				// Fill byte; treat the second 0xFF as the prefix of
				// whatever follows.
				d.marker = markerStart
				continue
			default:
				d.marker = buf[0]
				continue
			}
		}

		d.bits = d.bits<<8 | uint32(b)
		d.nBits += 8
	}
	return nil
}

func (d *losslessDecoder) receiveBits(n int) (int, error) {
	if err := d.fillBits(n); err != nil {
		return 0, err
	}
	d.nBits -= n
	v := int(d.bits>>uint(d.nBits)) & ((1 << n) - 1)
	return v, nil
}

func (d *losslessDecoder) decodeHuffman(ht *huffmanTable) (int, error) {
	if err := d.fillBits(8); err != nil {
		// Near the end of the scan fewer than 8 bits may remain; fall
		// through to the slow path on the bits we have.
		if d.nBits == 0 {
			return 0, err
		}
	} else if entry := ht.lookup[int(d.bits>>uint(d.nBits-8))&0xFF]; entry >= 0 {
		d.nBits -= int(entry >> 8)
		return int(entry & 0xFF), nil
	}

	// Slow path for codes longer than 8 bits (or a short tail).
	code := 0
	k := 0
	for length := 1; length <= 16; length++ {
		bit, err := d.receiveBits(1)
		if err != nil {
			return 0, err
		}
		code = code<<1 | bit

		n := ht.bits[length]
		if n > 0 {
			first := int(ht.codes[k])
			if code-first < n {
				return int(ht.values[k+code-first]), nil
			}
			k += n
		}
	}
	return 0, errors.New("invalid Huffman code")
}

// syncRestart byte-aligns and consumes the expected RSTn marker.
func (d *losslessDecoder) syncRestart(restartsSeen int) error {
	d.bits = 0
	d.nBits = 0

	expected := markerRST0 + byte(restartsSeen%8)

	if d.marker == 0 {
		m, err := nextMarker(d.r)
		if err != nil {
			return err
		}
		d.marker = m
	}
	if d.marker != expected {
		return fmt.Errorf("expected RST%d, got marker 0x%02X", restartsSeen%8, d.marker)
	}
	d.marker = 0
	return nil
}
