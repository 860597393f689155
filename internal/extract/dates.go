package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// civilDate is a zone-free calendar date. Arithmetic goes through time.Date
// in UTC, which normalizes overflowing fields (Feb 30 → Mar 2, month 13 →
// January next year) without any DST interference.
type civilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func civilOf(t time.Time) civilDate {
	return civilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d civilDate) addDays(n int) civilDate {
	return civilOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d civilDate) addMonths(n int) civilDate {
	return civilOf(time.Date(d.Year, d.Month+time.Month(n), d.Day, 0, 0, 0, 0, time.UTC))
}

func (d civilDate) addYears(n int) civilDate {
	return civilOf(time.Date(d.Year+n, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
}

// String renders YYYY-MM-DD from the integer fields.
func (d civilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	last := time.Date(y, time.Month(m)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return d <= last
}

// dateMatch is a recognized date and the substring it came from.
type dateMatch struct {
	Date civilDate
	Text string
}

var (
	// 2026年2月14日, 2026-02-14, 2026.2.14, 2026/2/14号
	reAbsoluteYMD = regexp.MustCompile(`(\d{4})\s*[年./-]\s*(\d{1,2})\s*[月./-]\s*(\d{1,2})\s*[日号]?`)
	// 02/14/26
	reShortMDY = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2})\b`)
	// 2月14日, 2月14号 (current year)
	reMonthDay = regexp.MustCompile(`(\d{1,2})\s*月\s*(\d{1,2})\s*[日号]`)

	reDaysLater   = regexp.MustCompile(`(\d{1,4})\s*天后`)
	reWeeksLater  = regexp.MustCompile(`(\d{1,3})\s*周后`)
	reMonthsLater = regexp.MustCompile(`(\d{1,3})\s*个月后`)
	reYearsLater  = regexp.MustCompile(`(\d{1,2})\s*年后`)
)

// relativeKeyword maps a fixed phrase to a date computed from today.
type relativeKeyword struct {
	Phrase  string
	Absorb  string // runes right after Phrase that belong to the date text
	Resolve func(today civilDate) civilDate
}

// relativeKeywords are checked in order; the first phrase present wins.
var relativeKeywords = []relativeKeyword{
	{"今天", "", func(d civilDate) civilDate { return d }},
	{"明天", "", func(d civilDate) civilDate { return d.addDays(1) }},
	{"后天", "", func(d civilDate) civilDate { return d.addDays(2) }},
	{"下周", "一二三四五六日天末", func(d civilDate) civilDate { return d.addDays(7) }},
	{"下个月", "", func(d civilDate) civilDate {
		return civilOf(time.Date(d.Year, d.Month+1, 1, 0, 0, 0, 0, time.UTC))
	}},
	{"明年", "", func(d civilDate) civilDate { return civilDate{Year: d.Year + 1, Month: time.January, Day: 1} }},
}

// offsetPattern is an "N <unit> later" phrase.
type offsetPattern struct {
	Re    *regexp.Regexp
	Apply func(today civilDate, n int) civilDate
}

var offsetPatterns = []offsetPattern{
	{reDaysLater, func(d civilDate, n int) civilDate { return d.addDays(n) }},
	{reWeeksLater, func(d civilDate, n int) civilDate { return d.addDays(7 * n) }},
	{reMonthsLater, func(d civilDate, n int) civilDate { return d.addMonths(n) }},
	{reYearsLater, func(d civilDate, n int) civilDate { return d.addYears(n) }},
}

// recognizeDate finds the most specific date phrase in line: absolute dates
// first, then relative keywords, then numeric offsets.
func recognizeDate(line string, today civilDate) (dateMatch, bool) {
	if m := reAbsoluteYMD.FindStringSubmatch(line); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if validDate(y, mo, d) {
			return dateMatch{Date: civilDate{y, time.Month(mo), d}, Text: m[0]}, true
		}
	}
	if m := reShortMDY.FindStringSubmatch(line); m != nil {
		mo, d, y := atoi(m[1]), atoi(m[2]), 2000+atoi(m[3])
		if validDate(y, mo, d) {
			return dateMatch{Date: civilDate{y, time.Month(mo), d}, Text: m[0]}, true
		}
	}
	if m := reMonthDay.FindStringSubmatch(line); m != nil {
		mo, d := atoi(m[1]), atoi(m[2])
		if validDate(today.Year, mo, d) {
			return dateMatch{Date: civilDate{today.Year, time.Month(mo), d}, Text: m[0]}, true
		}
	}

	for _, kw := range relativeKeywords {
		i := strings.Index(line, kw.Phrase)
		if i < 0 {
			continue
		}
		text := kw.Phrase
		if next, _ := utf8.DecodeRuneInString(line[i+len(kw.Phrase):]); next != utf8.RuneError && strings.ContainsRune(kw.Absorb, next) {
			text += string(next)
		}
		return dateMatch{Date: kw.Resolve(today), Text: text}, true
	}

	for _, op := range offsetPatterns {
		if m := op.Re.FindStringSubmatch(line); m != nil {
			return dateMatch{Date: op.Apply(today, atoi(m[1])), Text: m[0]}, true
		}
	}

	return dateMatch{}, false
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
