package extract

import (
	"fmt"
	"regexp"
)

// clockTime is a wall-clock time of day.
type clockTime struct {
	Hour   int
	Minute int
}

func (c clockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

var defaultStartTime = clockTime{Hour: 9}

type timeMatch struct {
	Time clockTime
	Text string
}

const periodAlt = `上午|早上|凌晨|中午|下午|晚上`

var (
	// 14:30, 14：30, 下午2:30
	reClock = regexp.MustCompile(`(` + periodAlt + `)?\s*(\d{1,2})\s*[:：]\s*(\d{2})`)
	// 2点, 2点30分, 3点半, 下午2点
	rePoint = regexp.MustCompile(`(` + periodAlt + `)?\s*(\d{1,2})\s*点\s*(?:(\d{1,2})\s*分|(半))?`)
	// period without a number
	rePeriod = regexp.MustCompile(periodAlt)
)

// periodDefaults maps a bare period word to a start time.
//
// A bare 中午 maps to 18:00 like 晚上 (see DESIGN.md).
var periodDefaults = map[string]clockTime{
	"上午": {9, 0},
	"早上": {9, 0},
	"凌晨": {9, 0},
	"下午": {14, 0},
	"晚上": {18, 0},
	"中午": {18, 0},
}

// applyPeriod shifts a 12-hour clock reading into 24-hour time.
func applyPeriod(period string, hour int) int {
	switch period {
	case "下午", "晚上":
		if hour < 12 {
			return hour + 12
		}
	case "中午":
		if hour < 11 {
			return hour + 12
		}
	case "凌晨":
		if hour == 12 {
			return 0
		}
	}
	return hour
}

// recognizeTime finds a time of day in line. Explicit clock readings win
// over bare period words; absent both, ok is false.
func recognizeTime(line string) (timeMatch, bool) {
	if m := reClock.FindStringSubmatch(line); m != nil {
		h, mi := applyPeriod(m[1], atoi(m[2])), atoi(m[3])
		if h <= 23 && mi <= 59 {
			return timeMatch{Time: clockTime{h, mi}, Text: m[0]}, true
		}
	}
	if m := rePoint.FindStringSubmatch(line); m != nil {
		h := applyPeriod(m[1], atoi(m[2]))
		mi := 0
		switch {
		case m[3] != "":
			mi = atoi(m[3])
		case m[4] != "":
			mi = 30
		}
		if h <= 23 && mi <= 59 {
			return timeMatch{Time: clockTime{h, mi}, Text: m[0]}, true
		}
	}
	if p := rePeriod.FindString(line); p != "" {
		return timeMatch{Time: periodDefaults[p], Text: p}, true
	}
	return timeMatch{}, false
}
