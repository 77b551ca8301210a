// Package charset determines the character encoding of fetched pages and
// decodes them to UTF-8.
package charset

import (
	"net/http"
	"regexp"
	"strings"

	htmlcharset "golang.org/x/net/html/charset"
)

// Source names the step that decided an encoding.
type Source string

// The resolution steps in precedence order.
const (
	SourceForced     Source = "forced"
	SourceHeader     Source = "header"
	SourceMeta       Source = "meta"
	SourceDetectHead Source = "detect-head"
	SourceDetectFull Source = "detect-full"
	SourceTransport  Source = "transport"
	SourceRedetect   Source = "redetect"
	SourceFallback   Source = "fallback"
)

const (
	headSampleSize    = 4096
	headConfidence    = 0.7
	fullConfidence    = 0.5
	garbledConfidence = 0.6
)

var (
	metaCharsetRe     = regexp.MustCompile(`(?i)<meta[^>]*charset=["']?([^"'>]+)`)
	metaContentTypeRe = regexp.MustCompile(
		`(?i)<meta[^>]*http-equiv=["']?content-type["']?[^>]*content=["']?[^;]+;\s*charset=([^"'>]+)`,
	)
)

// DefaultFallbackEncodings are tried in order when the resolved encoding has
// no decoder.
var DefaultFallbackEncodings = []string{"gb18030", "gbk", "gb2312", "big5"}

// Config holds the Resolver options.
type Config struct {
	// DefaultEncoding replaces an empty label. Defaults to utf-8.
	DefaultEncoding string

	// FallbackEncodings are tried when decoding by the resolved label fails.
	FallbackEncodings []string

	// DetectEncoding enables statistical detection.
	DetectEncoding bool

	// ForceEncoding, when set, overrides every other source.
	ForceEncoding string

	// UseMetaCharset enables scanning <meta> tags for a charset.
	UseMetaCharset bool

	// Detector performs statistical detection. Defaults to chardet.
	Detector Detector
}

// Decoded is a page body converted to UTF-8.
type Decoded struct {
	Text     string
	Encoding string
	Source   Source
}

// Resolver picks the encoding of a page from its headers and bytes.
type Resolver struct {
	cfg Config
}

// NewResolver returns a Resolver configured by cfg.
func NewResolver(cfg Config) *Resolver {
	if cfg.DefaultEncoding == "" {
		cfg.DefaultEncoding = DefaultEncoding
	}
	if cfg.FallbackEncodings == nil {
		cfg.FallbackEncodings = DefaultFallbackEncodings
	}
	if cfg.Detector == nil {
		cfg.Detector = NewChardetDetector()
	}

	return &Resolver{cfg: cfg}
}

func (r *Resolver) canonical(name string) string {
	if strings.TrimSpace(name) == "" {
		return Canonical(r.cfg.DefaultEncoding)
	}

	return Canonical(name)
}

// Resolve returns the canonical encoding name for a page together with the
// step that produced it.
func (r *Resolver) Resolve(header http.Header, raw []byte) (string, Source) {
	if r.cfg.ForceEncoding != "" {
		return r.canonical(r.cfg.ForceEncoding), SourceForced
	}

	contentType := header.Get("Content-Type")
	if cs := headerCharset(contentType); cs != "" {
		return r.canonical(cs), SourceHeader
	}

	if r.cfg.UseMetaCharset {
		if cs := metaCharset(raw); cs != "" {
			return r.canonical(cs), SourceMeta
		}
	}

	if r.cfg.DetectEncoding {
		head := raw
		if len(head) > headSampleSize {
			head = head[:headSampleSize]
		}
		if name, conf, err := r.cfg.Detector.Detect(head); err == nil && conf > headConfidence {
			return r.canonical(name), SourceDetectHead
		}
		if name, conf, err := r.cfg.Detector.Detect(raw); err == nil && conf > fullConfidence {
			return r.canonical(name), SourceDetectFull
		}
	}

	_, name, _ := htmlcharset.DetermineEncoding(raw, contentType)

	return r.canonical(name), SourceTransport
}

// Decode resolves the encoding of raw and converts it to UTF-8. It never
// fails: when every decoder is unusable the bytes are read as lossy UTF-8.
func (r *Resolver) Decode(header http.Header, raw []byte) Decoded {
	name, src := r.Resolve(header, raw)

	text, err := DecodeAs(name, raw)
	if err != nil {
		text, name = r.fallback(raw)
		src = SourceFallback
	}

	if LooksGarbled(text) {
		if alt, conf, err := r.cfg.Detector.Detect(raw); err == nil && conf > garbledConfidence {
			alt = r.canonical(alt)
			if redecoded, err := DecodeAs(alt, raw); err == nil {
				text, name, src = redecoded, alt, SourceRedetect
			}
		}
	}

	return Decoded{Text: text, Encoding: name, Source: src}
}

func (r *Resolver) fallback(raw []byte) (string, string) {
	for _, candidate := range r.cfg.FallbackEncodings {
		name := r.canonical(candidate)
		if text, err := DecodeAs(name, raw); err == nil {
			return text, name
		}
	}

	return strings.ToValidUTF8(string(raw), "�"), DefaultEncoding
}

func headerCharset(contentType string) string {
	lower := strings.ToLower(contentType)
	idx := strings.LastIndex(lower, "charset=")
	if idx < 0 {
		return ""
	}

	cs := lower[idx+len("charset="):]
	if semi := strings.IndexByte(cs, ';'); semi >= 0 {
		cs = cs[:semi]
	}

	return strings.Trim(strings.TrimSpace(cs), `"'`)
}

// metaCharset scans raw for a <meta> charset declaration. Non-ASCII bytes are
// dropped first so multi-byte content cannot confuse the patterns.
func metaCharset(raw []byte) string {
	ascii := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b < 0x80 {
			ascii = append(ascii, b)
		}
	}

	for _, re := range []*regexp.Regexp{metaCharsetRe, metaContentTypeRe} {
		if m := re.FindSubmatch(ascii); m != nil {
			if fields := strings.Fields(string(m[1])); len(fields) > 0 {
				return strings.TrimSuffix(fields[0], "/")
			}
		}
	}

	return ""
}
