package charset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnknownEncoding is returned when no decoder exists for a label.
var ErrUnknownEncoding = errors.New("unknown encoding")

var encodings = map[string]encoding.Encoding{
	"gb18030":      simplifiedchinese.GB18030,
	"big5":         traditionalchinese.Big5,
	"iso-8859-1":   charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"utf-16":       unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16-le":    unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16-be":    unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"euc-jp":       japanese.EUCJP,
	"shift_jis":    japanese.ShiftJIS,
	"euc-kr":       korean.EUCKR,
}

// lookup returns the decoder for a canonical name. A nil encoding means the
// bytes are UTF-8.
func lookup(name string) (encoding.Encoding, error) {
	if name == "utf-8" {
		return nil, nil
	}
	if enc, ok := encodings[name]; ok {
		return enc, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}

	return enc, nil
}

// DecodeAs converts raw to a UTF-8 string using the named encoding. Invalid
// byte sequences are replaced with U+FFFD.
func DecodeAs(name string, raw []byte) (string, error) {
	enc, err := lookup(Canonical(name))
	if err != nil {
		return "", err
	}

	if enc == nil {
		return strings.ToValidUTF8(string(raw), "�"), nil
	}

	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}

	return string(out), nil
}

// EncodeAs converts text back to the bytes of the named encoding. It reverses
// DecodeAs for pages that were stored after decoding with the wrong
// encoding. Characters the encoding cannot represent fail the conversion.
func EncodeAs(name string, text string) ([]byte, error) {
	enc, err := lookup(Canonical(name))
	if err != nil {
		return nil, err
	}

	if enc == nil {
		return []byte(text), nil
	}

	out, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	return out, nil
}
