package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidNumber is returned when text cannot be read as a number under
// the configured locale.
var ErrInvalidNumber = errors.New("invalid number")

// Locale fixes the number and date conventions used to read text cells.
// One locale applies to a whole run; it is never guessed per cell.
type Locale struct {
	Name        string
	Decimal     byte
	Group       byte
	DateLayouts []string
}

var (
	// PtBR reads 1.234,56 and dd/mm/yyyy.
	PtBR = Locale{
		Name:    "pt-BR",
		Decimal: ',',
		Group:   '.',
		DateLayouts: []string{
			"02/01/2006 15:04:05", "02/01/2006 15:04", "02/01/2006",
			"2/1/2006 15:04:05", "2/1/2006 15:04", "2/1/2006",
			"02-01-2006", "02.01.2006",
		},
	}

	// EnUS reads 1,234.56 and mm/dd/yyyy.
	EnUS = Locale{
		Name:    "en-US",
		Decimal: '.',
		Group:   ',',
		DateLayouts: []string{
			"01/02/2006 15:04:05", "01/02/2006 15:04", "01/02/2006",
			"1/2/2006 15:04:05", "1/2/2006 3:04 PM", "1/2/2006",
			"Jan 2, 2006",
		},
	}
)

// isoLayouts are accepted regardless of locale.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseLocale resolves a locale name such as "pt-BR" or "en_US".
func ParseLocale(name string) (Locale, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "pt-br", "pt":
		return PtBR, nil
	case "en-us", "en":
		return EnUS, nil
	}
	return Locale{}, fmt.Errorf("unsupported locale %q", name)
}

var currencySymbols = []string{"R$", "US$", "$", "€", "£"}

var digits = regexp.MustCompile(`^\d+$`)

// ParseDecimal reads a human-formatted number. Currency symbols, spaces and
// accounting parentheses are accepted; thousands groups must be well formed,
// so "3.50" is rejected under pt-BR instead of being read as 350.
func (l Locale) ParseDecimal(s string) (decimal.Decimal, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidNumber)
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\u202f' {
			return -1
		}
		return r
	}, s)
	if strings.HasPrefix(s, "-") {
		if neg {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, orig)
		}
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(s, string(l.Decimal))
	if hasFrac && !digits.MatchString(fracPart) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, orig)
	}
	if intPart == "" {
		if !hasFrac {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, orig)
		}
		intPart = "0"
	}
	if strings.IndexByte(intPart, l.Group) >= 0 {
		if !l.wellGrouped(intPart) {
			return decimal.Zero, fmt.Errorf("%w: %q: malformed digit grouping for %s", ErrInvalidNumber, orig, l.Name)
		}
		intPart = strings.ReplaceAll(intPart, string(l.Group), "")
	}
	if !digits.MatchString(intPart) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, orig)
	}

	num := intPart
	if hasFrac {
		num += "." + fracPart
	}
	if neg {
		num = "-" + num
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, orig)
	}
	return d, nil
}

// wellGrouped reports whether s is digits split into thousands groups,
// e.g. "1.234.567" for pt-BR.
func (l Locale) wellGrouped(s string) bool {
	parts := strings.Split(s, string(l.Group))
	if len(parts) < 2 || len(parts[0]) < 1 || len(parts[0]) > 3 || !digits.MatchString(parts[0]) {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 || !digits.MatchString(p) {
			return false
		}
	}
	return true
}

// ParseTime reads a date or date-time in the locale's layouts or ISO 8601.
func (l Locale) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range l.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q for %s", s, l.Name)
}
