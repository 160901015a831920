package collections

import (
	"strings"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Interval is the gap of one driver to the car ahead and to the leader.
// Gaps are seconds (float64) when numeric; lapped cars keep the upstream
// textual form such as "+1 LAP".
type Interval struct {
	MeetingKey   int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int       `json:"session_key" bson:"session_key"`
	DriverNumber int       `json:"driver_number" bson:"driver_number"`
	GapToLeader  any       `json:"gap_to_leader" bson:"gap_to_leader"`
	Interval     any       `json:"interval" bson:"interval"`
	Date         time.Time `json:"date" bson:"date"`
}

func (d Interval) Collection() string { return "intervals" }

func (d Interval) UniqueKey() []any { return []any{d.Date, d.DriverNumber} }

type intervalsProcessor struct {
	meetingKey int
	sessionKey int
}

func newIntervals(meetingKey, sessionKey int) *intervalsProcessor {
	return &intervalsProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *intervalsProcessor) Name() string           { return "intervals" }
func (p *intervalsProcessor) SourceTopics() []string { return []string{"DriverRaceInfo"} }
func (p *intervalsProcessor) Stateful() bool         { return false }

func (p *intervalsProcessor) Process(msg domain.Message) []domain.Document {
	var docs []domain.Document
	for _, entry := range domain.DriverEntries(msg.Content) {
		data, ok := domain.AsMap(entry.Value)
		if !ok {
			continue
		}
		gap, hasGap := data["Gap"]
		interval, hasInterval := data["Interval"]
		if (!hasGap || gap == nil) && (!hasInterval || interval == nil) {
			continue
		}
		docs = append(docs, Interval{
			MeetingKey:   p.meetingKey,
			SessionKey:   p.sessionKey,
			DriverNumber: entry.Number,
			GapToLeader:  parseTimeDelta(gap),
			Interval:     parseTimeDelta(interval),
			Date:         msg.Timepoint,
		})
	}
	return docs
}

// parseTimeDelta converts an upstream gap value to seconds when numeric.
// "LAP 12" marks the leader and becomes 0; "+1 LAP" stays textual.
func parseTimeDelta(v any) any {
	if v == nil {
		return nil
	}
	if f, ok := v.(float64); ok {
		return f
	}
	s, ok := domain.Str(v)
	if !ok {
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(s), "LAP") {
		return 0.0
	}
	if strings.HasPrefix(s, "+") {
		if strings.Contains(s, "LAP") {
			return s
		}
		d, err := domain.ParseSessionTime(s[1:])
		if err != nil {
			return s
		}
		return d.Seconds()
	}
	if f, ok := domain.Float(s); ok {
		return f
	}
	return s
}
