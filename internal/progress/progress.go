// Package progress derives the in-game day from narrator text.
package progress

import (
	"regexp"
	"strconv"
	"sync"
)

// Pattern is one day-marker matcher. The first capture group holds the number,
// either in ASCII digits or as a simple Chinese numeral.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// NewPattern compiles a day-marker pattern.
func NewPattern(name, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{Name: name, re: re}, nil
}

// MustPattern is NewPattern that panics on a bad expression.
func MustPattern(name, expr string) Pattern {
	p, err := NewPattern(name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

const numeral = `([0-9]+|[零〇一二两三四五六七八九十百]+)`

// DefaultPatterns lists the markers in priority order: the bracketed
// localized header, then a bare localized phrase, then English "Day N".
var DefaultPatterns = []Pattern{
	MustPattern("bracketed", `【\s*第\s*`+numeral+`\s*天\s*】`),
	MustPattern("localized", `第\s*`+numeral+`\s*天`),
	MustPattern("english", `(?i)\bday\s*`+numeral),
}

// Tracker is a ratchet over the highest day seen so far.
type Tracker struct {
	mu       sync.RWMutex
	patterns []Pattern
	day      int
}

// NewTracker creates a tracker at day 0. With no patterns, DefaultPatterns is used.
func NewTracker(patterns ...Pattern) *Tracker {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Tracker{patterns: patterns}
}

// Observe returns the first day number found by the highest-priority pattern
// that matches text.
func (t *Tracker) Observe(text string) (int, bool) {
	for _, p := range t.patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if n, ok := parseNumber(m[1]); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// CurrentDay returns the highest day observed.
func (t *Tracker) CurrentDay() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.day
}

// Advance observes text and moves the day forward only if the observed value
// is strictly greater. It returns the (possibly unchanged) current day.
func (t *Tracker) Advance(text string) int {
	n, ok := t.Observe(text)
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok && n > t.day {
		t.day = n
	}
	return t.day
}

func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	return parseChineseNumeral(s)
}

var chineseDigits = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// parseChineseNumeral handles values below 1000, e.g. 三, 十二, 二十, 一百零五.
func parseChineseNumeral(s string) (int, bool) {
	total, digit := 0, -1
	for _, r := range s {
		switch r {
		case '十':
			if digit < 0 {
				digit = 1
			}
			total += digit * 10
			digit = -1
		case '百':
			if digit < 0 {
				return 0, false
			}
			total += digit * 100
			digit = -1
		default:
			d, ok := chineseDigits[r]
			if !ok {
				return 0, false
			}
			digit = d
		}
	}
	if digit > 0 {
		total += digit
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}
