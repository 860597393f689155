package extract

import (
	"strings"
	"unicode"
)

const (
	maxTitleRunes    = 200
	placeholderTitle = "未命名事件"
)

// leadingParticles are connective characters stripped from the front of a
// title once the date and time phrases are gone ("明天在会议室开会" → "会议室开会").
const leadingParticles = "的在有和与要去到是"

// deriveTitle removes the matched phrases from line and tidies the rest.
func deriveTitle(line string, remove ...string) string {
	title := line
	for _, r := range remove {
		if r == "" {
			continue
		}
		title = strings.Replace(title, r, " ", 1)
	}
	return cleanTitle(title)
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	for {
		trimmed := strings.TrimFunc(title, isTitleNoise)
		trimmed = strings.TrimLeft(trimmed, leadingParticles)
		if trimmed == title {
			break
		}
		title = trimmed
	}

	if r := []rune(title); len(r) > maxTitleRunes {
		title = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	if title == "" {
		return placeholderTitle
	}
	return title
}

func isTitleNoise(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune(",，。.、:：;；!！", r)
}
