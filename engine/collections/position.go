package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Position is one classification sample: where a driver currently runs.
type Position struct {
	MeetingKey   int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int       `json:"session_key" bson:"session_key"`
	DriverNumber int       `json:"driver_number" bson:"driver_number"`
	Date         time.Time `json:"date" bson:"date"`
	Position     int       `json:"position" bson:"position"`
}

func (d Position) Collection() string { return "position" }

func (d Position) UniqueKey() []any { return []any{d.Date, d.DriverNumber} }

type positionProcessor struct {
	meetingKey int
	sessionKey int
}

func newPosition(meetingKey, sessionKey int) *positionProcessor {
	return &positionProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *positionProcessor) Name() string           { return "position" }
func (p *positionProcessor) SourceTopics() []string { return []string{"TimingAppData"} }
func (p *positionProcessor) Stateful() bool         { return false }

func (p *positionProcessor) Process(msg domain.Message) []domain.Document {
	lines, _ := domain.Field(msg.Content, "Lines")

	var docs []domain.Document
	for _, entry := range domain.DriverEntries(lines) {
		line, ok := domain.Field(entry.Value, "Line")
		if !ok {
			continue
		}
		pos, ok := domain.Int(line)
		if !ok {
			continue
		}
		docs = append(docs, Position{
			MeetingKey:   p.meetingKey,
			SessionKey:   p.sessionKey,
			DriverNumber: entry.Number,
			Date:         msg.Timepoint,
			Position:     pos,
		})
	}
	return docs
}
