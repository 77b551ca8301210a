package charset

import (
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when no encoding name is available.
const DefaultEncoding = "utf-8"

// aliases maps folded encoding names to their canonical form. GB2312 and GBK
// are both decoded as their superset GB18030.
var aliases = map[string]string{
	"gb2312":        "gb18030",
	"gbk":           "gb18030",
	"chinese":       "gb18030",
	"csgb2312":      "gb18030",
	"csgb231280":    "gb18030",
	"gb231280":      "gb18030",
	"iso88591":      "iso-8859-1",
	"latin1":        "iso-8859-1",
	"cp1252":        "windows-1252",
	"windows1252":   "windows-1252",
	"utf8":          "utf-8",
	"utf16":         "utf-16",
	"utf16le":       "utf-16-le",
	"utf16be":       "utf-16-be",
	"unicodelittle": "utf-16-le",
	"unicodebig":    "utf-16-be",
	"eucjp":         "euc-jp",
	"shiftjis":      "shift_jis",
	"sjis":          "shift_jis",
	"euckr":         "euc-kr",
	"big5hkscs":     "big5",
	"xgbk":          "gb18030",
}

var aliasFolder = strings.NewReplacer("-", "", "_", "")

// Canonical maps an encoding label to the canonical name used by the
// crawler. Separators are ignored when matching the alias table; any other
// label is resolved through the WHATWG label index and, failing that,
// returned lowercased. An empty label yields DefaultEncoding.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultEncoding
	}

	if canonical, ok := aliases[aliasFolder.Replace(name)]; ok {
		return canonical
	}

	if enc, err := htmlindex.Get(name); err == nil {
		if whatwg, err := htmlindex.Name(enc); err == nil {
			if canonical, ok := aliases[aliasFolder.Replace(whatwg)]; ok {
				return canonical
			}
			return whatwg
		}
	}

	return name
}
