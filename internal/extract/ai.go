package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// ChatClient is the chat-completion collaborator used by AI extraction.
type ChatClient interface {
	SendMessage(ctx context.Context, prompt string) (string, error)
}

const aiDefaultConfidence = 0.9

const promptTemplate = `你是一个日程助手。请从下面的文本中提取所有日程事件。
当前日期：%s（%s），时区：%s。

只返回一个 JSON 对象，不要输出其他内容，格式如下：
{
  "events": [
    {
      "title": "事件标题",
      "startDate": "YYYY-MM-DDTHH:mm:ss",
      "endDate": "YYYY-MM-DDTHH:mm:ss",
      "description": "原文或补充说明",
      "type": "meeting|appointment|task|reminder|personal|health",
      "priority": "high|medium|low",
      "reminderMinutes": 15
    }
  ],
  "confidence": 0.9
}

时间使用本地时间，不要带时区后缀。没有明确时间的事件使用 09:00。

文本：
%s`

var (
	errNoJSONObject = errors.New("no JSON object in reply")
	errReplyShape   = errors.New(`reply JSON has no "events" array`)
)

type aiEvent struct {
	Title           string `json:"title"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	Description     string `json:"description"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	ReminderMinutes *int   `json:"reminderMinutes"`
	ReminderTime    *int   `json:"reminderTime"`
}

type aiReply struct {
	Events     []aiEvent `json:"events"`
	Confidence *float64  `json:"confidence"`
}

func (e *Extractor) buildPrompt(text string) string {
	now := e.now().In(e.loc)
	return fmt.Sprintf(promptTemplate, now.Format("2006-01-02"), now.Weekday(), e.loc.String(), text)
}

func (e *Extractor) extractWithAI(ctx context.Context, text string) Result {
	fail := func(err error) Result {
		return Result{Success: false, Events: []model.Event{}, Confidence: 0, Source: SourceAI, Error: err.Error()}
	}

	reply, err := e.ai.SendMessage(ctx, e.buildPrompt(text))
	if err != nil {
		appLog.Error("ai extraction request failed", err)
		return fail(err)
	}

	parsed, err := parseAIReply(reply)
	if err != nil {
		appLog.Warn("ai extraction reply unusable", "err", err, "reply_len", len(reply))
		return fail(err)
	}

	now := e.now().UTC()
	events := make([]model.Event, 0, len(parsed.Events))
	for _, raw := range parsed.Events {
		ev, ok := e.normalizeAIEvent(raw, text)
		if !ok {
			continue
		}
		ev.CreatedAt, ev.UpdatedAt = now, now
		events = append(events, ev)
	}

	confidence := aiDefaultConfidence
	if parsed.Confidence != nil && *parsed.Confidence >= 0 && *parsed.Confidence <= 1 {
		confidence = *parsed.Confidence
	}
	return Result{Success: true, Events: Deduplicate(events), Confidence: confidence, Source: SourceAI}
}

// normalizeAIEvent validates timestamps and fills defaults. Events whose
// start cannot be read are dropped.
func (e *Extractor) normalizeAIEvent(raw aiEvent, source string) (model.Event, bool) {
	startT, err := model.ParseLocal(raw.StartDate, e.loc)
	if err != nil {
		return model.Event{}, false
	}
	start := model.FormatLocal(startT)

	end := ""
	if endT, err := model.ParseLocal(raw.EndDate, e.loc); err == nil && !endT.Before(startT) {
		end = model.FormatLocal(endT)
	}
	if end == "" {
		if end, err = e.CalculateEndDate(start, 0); err != nil {
			return model.Event{}, false
		}
	}

	minutes := e.reminderMinutes
	switch {
	case raw.ReminderMinutes != nil && *raw.ReminderMinutes >= 0:
		minutes = *raw.ReminderMinutes
	case raw.ReminderTime != nil && *raw.ReminderTime >= 0:
		minutes = *raw.ReminderTime
	}

	desc := strings.TrimSpace(raw.Description)
	if desc == "" {
		desc = source
	}

	return model.Event{
		ID:              model.NewID(),
		Title:           cleanTitle(raw.Title),
		StartDate:       start,
		EndDate:         end,
		Description:     desc,
		Priority:        model.ParsePriority(raw.Priority),
		Type:            model.ParseEventType(raw.Type),
		ReminderMinutes: minutes,
		EnableReminder:  true,
	}, true
}

// parseAIReply pulls the first balanced {...} span out of free text and
// decodes it, repairing common model JSON mistakes when strict decoding fails.
func parseAIReply(reply string) (aiReply, error) {
	span, ok := firstJSONObject(reply)
	if !ok {
		return aiReply{}, errNoJSONObject
	}

	var out aiReply
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(span)
		if repairErr != nil {
			return aiReply{}, fmt.Errorf("decode reply: %w", err)
		}
		out = aiReply{}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return aiReply{}, fmt.Errorf("decode repaired reply: %w", err)
		}
	}
	if out.Events == nil {
		return aiReply{}, errReplyShape
	}
	return out, nil
}

// firstJSONObject returns the first balanced {...} span in s, honoring
// string literals and escapes. If the object never closes, the tail from the
// first '{' is returned so the repair step can try to complete it.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}
