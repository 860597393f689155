// Package extract turns free-form text into structured calendar events.
//
// Rule-based extraction is always available. When a ChatClient is
// configured, the AI path is tried first and the rules act as fallback.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/model"
)

const (
	SourceRules = "rules"
	SourceAI    = "ai"

	rulesConfidence = 0.7

	defaultDurationMinutes = 60
)

// Result is the outcome of extracting one text.
type Result struct {
	Success    bool          `json:"success"`
	Events     []model.Event `json:"events"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
	Error      string        `json:"error,omitempty"`
}

// BatchResult aggregates several extractions after global de-duplication.
type BatchResult struct {
	Success    bool          `json:"success"`
	Events     []model.Event `json:"events"`
	Total      int           `json:"total"`
	Unique     int           `json:"unique"`
	Duplicates int           `json:"duplicates"`
}

// Options configures an Extractor. Zero values pick defaults.
type Options struct {
	// DefaultDurationMinutes is added to start times to derive end times.
	DefaultDurationMinutes int
	// DefaultReminderMinutes is attached to every extracted event.
	DefaultReminderMinutes int
	// Location decides what "today" means for relative phrases.
	Location *time.Location
	// AI enables the AI extraction path when non-nil.
	AI      ChatClient
	Metrics *metrics.Metrics
}

// Extractor is safe for concurrent use.
type Extractor struct {
	duration        int
	reminderMinutes int
	loc             *time.Location
	ai              ChatClient
	metrics         *metrics.Metrics
	now             func() time.Time
}

func New(opts Options) *Extractor {
	if opts.DefaultDurationMinutes <= 0 {
		opts.DefaultDurationMinutes = defaultDurationMinutes
	}
	if opts.DefaultReminderMinutes < 0 {
		opts.DefaultReminderMinutes = 0
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Extractor{
		duration:        opts.DefaultDurationMinutes,
		reminderMinutes: opts.DefaultReminderMinutes,
		loc:             opts.Location,
		ai:              opts.AI,
		metrics:         opts.Metrics,
		now:             time.Now,
	}
}

// Extract never returns an error; failures are reported in Result.
func (e *Extractor) Extract(ctx context.Context, text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("extract: internal failure: %v", r)
			appLog.Error("extraction panicked", err)
			res = Result{Success: false, Events: []model.Event{}, Confidence: 0, Source: SourceRules, Error: err.Error()}
		}
	}()

	if strings.TrimSpace(text) == "" {
		return Result{Success: true, Events: []model.Event{}, Source: SourceRules}
	}

	if e.ai != nil {
		aiRes := e.extractWithAI(ctx, text)
		e.metrics.ObserveExtraction(SourceAI, aiRes.Success, len(aiRes.Events))
		if aiRes.Success && len(aiRes.Events) > 0 {
			return aiRes
		}
		appLog.Debug("ai extraction yielded nothing; falling back to rules", "error", aiRes.Error)
	}

	res = e.extractWithRules(text)
	e.metrics.ObserveExtraction(SourceRules, res.Success, len(res.Events))
	return res
}

// ExtractBatch extracts every text and de-duplicates across all of them.
func (e *Extractor) ExtractBatch(ctx context.Context, texts []string) BatchResult {
	all := make([]model.Event, 0)
	failures := 0
	for _, t := range texts {
		res := e.Extract(ctx, t)
		if !res.Success {
			failures++
			continue
		}
		all = append(all, res.Events...)
	}

	unique := Deduplicate(all)
	return BatchResult{
		Success:    len(texts) == 0 || failures < len(texts),
		Events:     unique,
		Total:      len(all),
		Unique:     len(unique),
		Duplicates: len(all) - len(unique),
	}
}

func (e *Extractor) extractWithRules(text string) Result {
	now := e.now().In(e.loc)
	today := civilOf(now)

	events := make([]model.Event, 0)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || !looksLikeEvent(line) {
			continue
		}
		ev, ok := e.parseLine(line, today, now)
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	events = Deduplicate(events)
	confidence := 0.0
	if len(events) > 0 {
		confidence = rulesConfidence
	}
	return Result{Success: true, Events: events, Confidence: confidence, Source: SourceRules}
}

// parseLine runs date recognition, time recognition and title derivation.
// Lines without a date produce no event.
func (e *Extractor) parseLine(line string, today civilDate, now time.Time) (model.Event, bool) {
	date, ok := recognizeDate(line, today)
	if !ok {
		return model.Event{}, false
	}

	rest := strings.Replace(line, date.Text, " ", 1)
	clock, found := recognizeTime(rest)
	if !found {
		clock = timeMatch{Time: defaultStartTime}
	}

	start := CombineDateTime(date.Date.String(), clock.Time.String())
	end, err := e.CalculateEndDate(start, 0)
	if err != nil {
		return model.Event{}, false
	}

	stamp := now.UTC()
	return model.Event{
		ID:              model.NewID(),
		Title:           deriveTitle(line, date.Text, clock.Text),
		StartDate:       start,
		EndDate:         end,
		Description:     line,
		Priority:        inferPriority(line),
		Type:            inferType(line),
		ReminderMinutes: e.reminderMinutes,
		EnableReminder:  true,
		CreatedAt:       stamp,
		UpdatedAt:       stamp,
	}, true
}

// CalculateEndDate adds durationMinutes (or the configured default when
// durationMinutes <= 0) to a LocalLayout start.
func (e *Extractor) CalculateEndDate(start string, durationMinutes int) (string, error) {
	if durationMinutes <= 0 {
		durationMinutes = e.duration
	}
	return model.AddMinutes(start, durationMinutes)
}

// CombineDateTime joins a YYYY-MM-DD date and an HH:mm[:ss] clock into a
// LocalLayout timestamp. It only reformats numbers; no zone is involved.
func CombineDateTime(date, clock string) string {
	h, m, s := 0, 0, 0
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) > 0 {
		h = atoi(parts[0])
	}
	if len(parts) > 1 {
		m = atoi(parts[1])
	}
	if len(parts) > 2 {
		s = atoi(parts[2])
	}
	return fmt.Sprintf("%sT%02d:%02d:%02d", strings.TrimSpace(date), h, m, s)
}

// Deduplicate keeps the first event for each title+startDate pair,
// preserving order.
func Deduplicate(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		key := ev.Title + "\x00" + ev.StartDate
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
