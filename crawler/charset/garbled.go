package charset

const (
	garbledSampleSize = 1000
	garbledThreshold  = 0.1
)

// garbageGlyphs are characters that commonly show up when bytes are decoded
// with the wrong encoding.
var garbageGlyphs = map[rune]struct{}{
	'�': {}, '□': {}, '■': {}, '▯': {}, '▒': {}, '◯': {}, '○': {}, '⃝': {},
}

// LooksGarbled reports whether text is likely mojibake. Only the first 1000
// runes are inspected.
func LooksGarbled(text string) bool {
	var total, nonASCII, garbage, cjk, latin int

	for _, r := range text {
		if total == garbledSampleSize {
			break
		}
		total++

		if r > 127 {
			nonASCII++
		}
		if _, ok := garbageGlyphs[r]; ok {
			garbage++
		}
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			cjk++
		case r >= 0x41 && r <= 0x7A:
			latin++
		}
	}

	if total == 0 {
		return false
	}

	// A few stray CJK characters inside Latin text are typical of a
	// single-byte page decoded as a multi-byte encoding.
	if cjk > 0 && latin > 0 && cjk < 10 && nonASCII > 0 {
		return true
	}

	garbageRatio := float64(garbage) / float64(total)
	nonASCIIRatio := float64(nonASCII) / float64(total)

	return garbageRatio > garbledThreshold || (nonASCIIRatio > 0.5 && garbage > 0)
}
