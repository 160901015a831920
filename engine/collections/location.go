package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Location is one on-track coordinate sample for one car.
type Location struct {
	MeetingKey   int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int       `json:"session_key" bson:"session_key"`
	DriverNumber int       `json:"driver_number" bson:"driver_number"`
	Date         time.Time `json:"date" bson:"date"`
	X            *int      `json:"x" bson:"x"`
	Y            *int      `json:"y" bson:"y"`
	Z            *int      `json:"z" bson:"z"`
}

func (d Location) Collection() string { return "location" }

func (d Location) UniqueKey() []any { return []any{d.Date, d.DriverNumber} }

type locationProcessor struct {
	meetingKey int
	sessionKey int
}

func newLocation(meetingKey, sessionKey int) *locationProcessor {
	return &locationProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *locationProcessor) Name() string           { return "location" }
func (p *locationProcessor) SourceTopics() []string { return []string{"Position.z"} }
func (p *locationProcessor) Stateful() bool         { return false }

func (p *locationProcessor) Process(msg domain.Message) []domain.Document {
	frames, _ := domain.Field(msg.Content, "Position")
	list, ok := domain.AsSlice(frames)
	if !ok {
		return nil
	}

	var docs []domain.Document
	for _, frame := range list {
		ts, ok := domain.Field(frame, "Timestamp")
		if !ok {
			continue
		}
		tsStr, ok := domain.Str(ts)
		if !ok {
			continue
		}
		date, err := domain.ParseUTC(tsStr)
		if err != nil {
			continue
		}

		entries, _ := domain.Field(frame, "Entries")
		for _, entry := range domain.DriverEntries(entries) {
			if _, ok := domain.AsMap(entry.Value); !ok {
				continue
			}
			docs = append(docs, Location{
				MeetingKey:   p.meetingKey,
				SessionKey:   p.sessionKey,
				DriverNumber: entry.Number,
				Date:         date,
				X:            coordInt(entry.Value, "X"),
				Y:            coordInt(entry.Value, "Y"),
				Z:            coordInt(entry.Value, "Z"),
			})
		}
	}
	return docs
}

func coordInt(entry any, key string) *int {
	v, ok := domain.Field(entry, key)
	if !ok {
		return nil
	}
	n, ok := domain.Int(v)
	if !ok {
		return nil
	}
	return &n
}
