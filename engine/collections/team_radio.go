package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

const recordingBaseURL = "https://livetiming.formula1.com/static/"

// TeamRadio is one radio exchange capture published by the feed.
type TeamRadio struct {
	MeetingKey   int        `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int        `json:"session_key" bson:"session_key"`
	DriverNumber int        `json:"driver_number" bson:"driver_number"`
	Date         *time.Time `json:"date" bson:"date"`
	RecordingURL string     `json:"recording_url" bson:"recording_url"`
}

func (d TeamRadio) Collection() string { return "team_radio" }

func (d TeamRadio) UniqueKey() []any { return []any{d.Date, d.DriverNumber} }

type teamRadioProcessor struct {
	meetingKey int
	sessionKey int

	sessionPath string
}

func newTeamRadio(meetingKey, sessionKey int) *teamRadioProcessor {
	return &teamRadioProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *teamRadioProcessor) Name() string           { return "team_radio" }
func (p *teamRadioProcessor) SourceTopics() []string { return []string{"SessionInfo", "TeamRadio"} }
func (p *teamRadioProcessor) Stateful() bool         { return true }

func (p *teamRadioProcessor) Process(msg domain.Message) []domain.Document {
	if msg.Topic == "SessionInfo" {
		if path, ok := domain.Field(msg.Content, "Path"); ok {
			if s, ok := domain.Str(path); ok {
				p.sessionPath = s
			}
		}
		return nil
	}

	// Captures cannot be resolved to a URL before the session path arrives.
	if p.sessionPath == "" {
		return nil
	}

	captures, ok := domain.Field(msg.Content, "Captures")
	if !ok {
		return nil
	}

	var docs []domain.Document
	for _, item := range domain.IndexedItems(captures) {
		rn, ok := domain.Field(item.Value, "RacingNumber")
		if !ok {
			continue
		}
		driverNumber, ok := domain.Int(rn)
		if !ok {
			continue
		}

		pathVal, ok := domain.Field(item.Value, "Path")
		if !ok {
			continue
		}
		path, ok := domain.Str(pathVal)
		if !ok {
			continue
		}

		var date *time.Time
		if utc, ok := domain.Field(item.Value, "Utc"); ok {
			if s, ok := domain.Str(utc); ok {
				if parsed, err := domain.ParseUTC(s); err == nil {
					date = &parsed
				}
			}
		}

		docs = append(docs, TeamRadio{
			MeetingKey:   p.meetingKey,
			SessionKey:   p.sessionKey,
			DriverNumber: driverNumber,
			Date:         date,
			RecordingURL: recordingBaseURL + p.sessionPath + path,
		})
	}
	return docs
}
