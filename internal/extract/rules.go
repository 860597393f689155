package extract

import (
	"regexp"

	"smartcal/internal/model"
)

// typeRule pairs an event type with its keyword matcher.
type typeRule struct {
	Type  model.EventType
	Match *regexp.Regexp
}

// typeRules is evaluated top to bottom; the first match decides the type.
var typeRules = []typeRule{
	{model.TypeMeeting, regexp.MustCompile(`会议|开会|例会|讨论|研讨|评审|汇报|座谈|(?i:meeting)`)},
	{model.TypeAppointment, regexp.MustCompile(`约会|预约|约见|见面|拜访|面试|面谈|(?i:appointment)`)},
	{model.TypeTask, regexp.MustCompile(`任务|工作|项目|完成|提交|截止|交付|作业|报告|(?i:deadline|task)`)},
	{model.TypeReminder, regexp.MustCompile(`提醒|记得|别忘|不要忘|(?i:remind)`)},
	{model.TypePersonal, regexp.MustCompile(`生日|聚会|聚餐|吃饭|约饭|旅行|旅游|购物|电影|家庭|(?i:birthday|party)`)},
	{model.TypeHealth, regexp.MustCompile(`医院|看病|体检|吃药|服药|医生|复查|挂号|牙医|健身|锻炼|(?i:doctor|gym)`)},
}

type priorityRule struct {
	Priority model.Priority
	Match    *regexp.Regexp
}

var priorityRules = []priorityRule{
	{model.PriorityHigh, regexp.MustCompile(`重要|紧急|急|优先|立即|马上|尽快|务必|关键|(?i:urgent|important|asap)`)},
	{model.PriorityMedium, regexp.MustCompile(`一般|普通|注意|需要|应该|尽量|(?i:normal)`)},
}

// reGenericEvent catches event-ish lines that no type rule names.
var reGenericEvent = regexp.MustCompile(`事|安排|计划|活动|日程|参加|准备|出发|到期|(?i:event|todo)`)

// inferType returns the first matching rule's type, or personal.
func inferType(line string) model.EventType {
	for _, r := range typeRules {
		if r.Match.MatchString(line) {
			return r.Type
		}
	}
	return model.TypePersonal
}

// inferPriority checks high then medium keywords, defaulting to low.
func inferPriority(line string) model.Priority {
	for _, r := range priorityRules {
		if r.Match.MatchString(line) {
			return r.Priority
		}
	}
	return model.PriorityLow
}

// looksLikeEvent is the keyword gate applied before date/time recognition.
func looksLikeEvent(line string) bool {
	if reGenericEvent.MatchString(line) {
		return true
	}
	for _, r := range typeRules {
		if r.Match.MatchString(line) {
			return true
		}
	}
	return false
}
