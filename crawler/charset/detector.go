package charset

import (
	"github.com/saintfish/chardet"
)

// Detector guesses the encoding of a byte stream.
type Detector interface {
	// Detect returns the most likely encoding label and a confidence in the
	// range [0, 1].
	Detect(raw []byte) (name string, confidence float64, err error)
}

// ChardetDetector is a Detector backed by the ICU-derived chardet package.
type ChardetDetector struct {
	d *chardet.Detector
}

// NewChardetDetector returns a detector that ignores markup while scoring.
func NewChardetDetector() *ChardetDetector {
	return &ChardetDetector{d: chardet.NewHtmlDetector()}
}

// Detect implements Detector.
func (cd *ChardetDetector) Detect(raw []byte) (string, float64, error) {
	res, err := cd.d.DetectBest(raw)
	if err != nil {
		return "", 0, err
	}

	return res.Charset, float64(res.Confidence) / 100, nil
}
