package jpegfix

const (
	markerStart = 0xFF
	markerTEM   = 0x01
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerDQT   = 0xDB
	markerDNL   = 0xDC
	markerDRI   = 0xDD
	markerCOM   = 0xFE

	markerSOF0  = 0xC0 // Baseline Sequential DCT
	markerSOF1  = 0xC1 // Extended Sequential DCT
	markerSOF2  = 0xC2 // Progressive DCT
	markerSOF3  = 0xC3 // Lossless (predictive)
	markerDHT   = 0xC4
	markerSOF5  = 0xC5
	markerSOF6  = 0xC6
	markerSOF7  = 0xC7
	markerJPG   = 0xC8
	markerSOF9  = 0xC9
	markerSOF10 = 0xCA
	markerSOF11 = 0xCB
	markerDAC   = 0xCC
	markerSOF13 = 0xCD
	markerSOF14 = 0xCE
	markerSOF15 = 0xCF

	markerRST0 = 0xD0
	markerRST7 = 0xD7

	markerAPP0  = 0xE0 // JFIF, JFXX
	markerAPP1  = 0xE1 // Exif, XMP
	markerAPP2  = 0xE2 // ICC_PROFILE
	markerAPP14 = 0xEE // Adobe
	markerAPP15 = 0xEF
)

var (
	jfifSig  = []byte{'J', 'F', 'I', 'F', 0}
	jfxxSig  = []byte{'J', 'F', 'X', 'X', 0}
	exifSig  = []byte{'E', 'x', 'i', 'f', 0, 0}
	iccSig   = []byte{'I', 'C', 'C', '_', 'P', 'R', 'O', 'F', 'I', 'L', 'E', 0}
	adobeSig = []byte{'A', 'd', 'o', 'b', 'e'}
)

func isSOF(marker byte) bool {
	switch marker {
	case markerSOF0, markerSOF1, markerSOF2, markerSOF3,
		markerSOF5, markerSOF6, markerSOF7,
		markerSOF9, markerSOF10, markerSOF11,
		markerSOF13, markerSOF14, markerSOF15:
		return true
	}
	return false
}

func isAPP(marker byte) bool {
	return marker >= markerAPP0 && marker <= markerAPP15
}
