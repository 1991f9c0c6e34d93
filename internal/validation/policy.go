package validation

import (
	"fmt"
	"regexp"

	"anpr-tracker/internal/utils"
)

// DefaultLivePattern matches 1–3 letters, 1–4 digits and up to 2 trailing letters.
const DefaultLivePattern = `^[A-Z]{1,3}[0-9]{1,4}[A-Z]{0,2}$`

var defaultLiveRe = regexp.MustCompile(DefaultLivePattern)

// ShapePolicy is a plate-shape gate applied to normalized text.
type ShapePolicy struct {
	MinLen     int
	MaxLen     int
	MinLetters int
	MinDigits  int
	// Pattern is optional; an empty pattern skips the regexp check.
	Pattern string

	re *regexp.Regexp
}

// LivePolicy is the strict gate for live-stream readings.
func LivePolicy() ShapePolicy {
	return ShapePolicy{
		MinLen:     5,
		MaxLen:     8,
		MinLetters: 2,
		MinDigits:  1,
		Pattern:    DefaultLivePattern,
		re:         defaultLiveRe,
	}
}

// CapturePolicy is the looser gate for single high-resolution captures:
// 4–8 characters with at least one letter and one digit.
func CapturePolicy() ShapePolicy {
	return ShapePolicy{
		MinLen:     4,
		MaxLen:     8,
		MinLetters: 1,
		MinDigits:  1,
	}
}

func (p *ShapePolicy) compile() error {
	if p.MinLen < 1 || p.MaxLen < p.MinLen {
		return fmt.Errorf("%w: length bounds [%d,%d]", ErrInvalidConfig, p.MinLen, p.MaxLen)
	}
	if p.MinLetters < 0 || p.MinDigits < 0 {
		return fmt.Errorf("%w: negative class minimum", ErrInvalidConfig)
	}
	if p.Pattern == "" {
		p.re = nil
		return nil
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrInvalidConfig, p.Pattern, err)
	}
	p.re = re
	return nil
}

// Accepts reports whether normalized text passes the gate.
func (p ShapePolicy) Accepts(text string) bool {
	n := len([]rune(text))
	if n < p.MinLen || n > p.MaxLen {
		return false
	}
	letters, digits := utils.CountClasses(text)
	if letters < p.MinLetters || digits < p.MinDigits {
		return false
	}
	if letters == 0 || digits == 0 {
		return false
	}
	switch {
	case p.re != nil:
		return p.re.MatchString(text)
	case p.Pattern != "":
		ok, err := regexp.MatchString(p.Pattern, text)
		return err == nil && ok
	}
	return true
}
