package collections

import (
	"fmt"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Pit is one pit stop. lane_duration is wall-to-wall time in the pit lane,
// stop_duration the stationary time; the fallback feed only knows the
// former.
type Pit struct {
	MeetingKey   int        `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int        `json:"session_key" bson:"session_key"`
	DriverNumber int        `json:"driver_number" bson:"driver_number"`
	LapNumber    int        `json:"lap_number" bson:"lap_number"`
	Date         *time.Time `json:"date" bson:"date"`
	LaneDuration *float64   `json:"lane_duration" bson:"lane_duration"`
	StopDuration *float64   `json:"stop_duration" bson:"stop_duration"`
}

func (d Pit) Collection() string { return "pit" }

func (d Pit) UniqueKey() []any {
	return []any{d.SessionKey, d.LapNumber, d.DriverNumber}
}

type pitProcessor struct {
	meetingKey int
	sessionKey int

	// (lap, driver) pairs already covered by a PitStopSeries record;
	// the fallback topic must not overwrite those.
	fromSeries map[string]struct{}
}

func newPit(meetingKey, sessionKey int) *pitProcessor {
	return &pitProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		fromSeries: make(map[string]struct{}),
	}
}

func (p *pitProcessor) Name() string { return "pit" }

func (p *pitProcessor) SourceTopics() []string {
	return []string{"PitStopSeries", "PitLaneTimeCollection"}
}

func (p *pitProcessor) Stateful() bool { return true }

func (p *pitProcessor) Process(msg domain.Message) []domain.Document {
	switch msg.Topic {
	case "PitStopSeries":
		return p.processSeries(msg)
	case "PitLaneTimeCollection":
		return p.processLaneTimes(msg)
	}
	return nil
}

func (p *pitProcessor) processSeries(msg domain.Message) []domain.Document {
	pitTimes, _ := domain.Field(msg.Content, "PitTimes")

	var docs []domain.Document
	for _, entry := range domain.DriverEntries(pitTimes) {
		for _, item := range domain.IndexedItems(entry.Value) {
			stop, ok := domain.Field(item.Value, "PitStop")
			if !ok {
				stop = item.Value
			}

			lapVal, ok := domain.Field(stop, "Lap")
			if !ok {
				continue
			}
			lap, ok := domain.Int(lapVal)
			if !ok {
				continue
			}

			var date *time.Time
			if ts, ok := domain.Field(stop, "Timestamp"); ok {
				if s, ok := domain.Str(ts); ok {
					if parsed, err := domain.ParseUTC(s); err == nil {
						date = &parsed
					}
				}
			}
			if date == nil {
				tp := msg.Timepoint
				date = &tp
			}

			doc := Pit{
				MeetingKey:   p.meetingKey,
				SessionKey:   p.sessionKey,
				DriverNumber: entry.Number,
				LapNumber:    lap,
				Date:         date,
				LaneDuration: durationField(stop, "PitLaneTime"),
				StopDuration: durationField(stop, "PitStopTime"),
			}
			p.fromSeries[pitKey(lap, entry.Number)] = struct{}{}
			docs = append(docs, doc)
		}
	}
	return docs
}

func (p *pitProcessor) processLaneTimes(msg domain.Message) []domain.Document {
	pitTimes, _ := domain.Field(msg.Content, "PitTimes")

	var docs []domain.Document
	for _, entry := range domain.DriverEntries(pitTimes) {
		lapVal, ok := domain.Field(entry.Value, "Lap")
		if !ok {
			continue
		}
		lap, ok := domain.Int(lapVal)
		if !ok {
			continue
		}
		if _, seen := p.fromSeries[pitKey(lap, entry.Number)]; seen {
			continue
		}
		tp := msg.Timepoint
		docs = append(docs, Pit{
			MeetingKey:   p.meetingKey,
			SessionKey:   p.sessionKey,
			DriverNumber: entry.Number,
			LapNumber:    lap,
			Date:         &tp,
			LaneDuration: durationField(entry.Value, "Duration"),
		})
	}
	return docs
}

func durationField(v any, key string) *float64 {
	raw, ok := domain.Field(v, key)
	if !ok || raw == nil {
		return nil
	}
	if s, ok := domain.Str(raw); ok {
		if s == "" {
			return nil
		}
		if d, err := domain.ParseSessionTime(s); err == nil {
			secs := d.Seconds()
			return &secs
		}
		return nil
	}
	if f, ok := domain.Float(raw); ok {
		return &f
	}
	return nil
}

func pitKey(lap, driver int) string {
	return fmt.Sprintf("%d_%d", lap, driver)
}
