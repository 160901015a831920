package collections

import (
	"fmt"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// RaceControl is one message from race control: flags, incidents,
// penalties, and synthetic session-status markers.
type RaceControl struct {
	MeetingKey   int        `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int        `json:"session_key" bson:"session_key"`
	Date         *time.Time `json:"date" bson:"date"`
	DriverNumber *int       `json:"driver_number" bson:"driver_number"`
	LapNumber    *int       `json:"lap_number" bson:"lap_number"`
	Category     *string    `json:"category" bson:"category"`
	Flag         *string    `json:"flag" bson:"flag"`
	Scope        *string    `json:"scope" bson:"scope"`
	Sector       *int       `json:"sector" bson:"sector"`
	Message      *string    `json:"message" bson:"message"`
}

func (d RaceControl) Collection() string { return "race_control" }

func (d RaceControl) UniqueKey() []any {
	return []any{d.Date, d.DriverNumber, d.LapNumber, d.Category, d.Flag, d.Scope, d.Sector}
}

// Session statuses that do not warrant a synthetic row.
var silentStatuses = map[string]struct{}{
	"Inactive":  {},
	"Finalised": {},
	"Ends":      {},
}

type raceControlProcessor struct {
	meetingKey int
	sessionKey int

	currentLap     *int
	qualifyingPart int
}

func newRaceControl(meetingKey, sessionKey int) *raceControlProcessor {
	return &raceControlProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *raceControlProcessor) Name() string { return "race_control" }

func (p *raceControlProcessor) SourceTopics() []string {
	return []string{"RaceControlMessages", "SessionData"}
}

func (p *raceControlProcessor) Stateful() bool { return true }

func (p *raceControlProcessor) Process(msg domain.Message) []domain.Document {
	switch msg.Topic {
	case "RaceControlMessages":
		return p.processMessages(msg)
	case "SessionData":
		return p.processSessionData(msg)
	}
	return nil
}

func (p *raceControlProcessor) processMessages(msg domain.Message) []domain.Document {
	messages, ok := domain.Field(msg.Content, "Messages")
	if !ok {
		return nil
	}

	var docs []domain.Document
	for _, item := range domain.IndexedItems(messages) {
		data, ok := domain.AsMap(item.Value)
		if !ok {
			continue
		}

		var date *time.Time
		if utc, ok := data["Utc"]; ok {
			if s, ok := domain.Str(utc); ok {
				if parsed, err := domain.ParseUTC(s); err == nil {
					date = &parsed
				}
			}
		}

		var driverNumber *int
		if rn, ok := data["RacingNumber"]; ok {
			if n, ok := domain.Int(rn); ok {
				driverNumber = &n
			}
		}

		lapNumber := optionalInt(data["Lap"])
		if lapNumber == nil {
			lapNumber = p.currentLap
		}

		docs = append(docs, RaceControl{
			MeetingKey:   p.meetingKey,
			SessionKey:   p.sessionKey,
			Date:         date,
			DriverNumber: driverNumber,
			LapNumber:    lapNumber,
			Category:     optionalStr(data["Category"]),
			Flag:         optionalStr(data["Flag"]),
			Scope:        optionalStr(data["Scope"]),
			Sector:       optionalInt(data["Sector"]),
			Message:      optionalStr(data["Message"]),
		})
	}
	return docs
}

// processSessionData tracks the live race lap and qualifying phase, and
// turns session-status changes into synthetic race-control rows.
func (p *raceControlProcessor) processSessionData(msg domain.Message) []domain.Document {
	if series, ok := domain.Field(msg.Content, "Series"); ok {
		for _, item := range domain.IndexedItems(series) {
			if lap, ok := domain.Field(item.Value, "Lap"); ok {
				if n, ok := domain.Int(lap); ok {
					p.currentLap = &n
				}
			}
			if part, ok := domain.Field(item.Value, "QualifyingPart"); ok {
				if n, ok := domain.Int(part); ok {
					p.qualifyingPart = n
				}
			}
		}
	}

	statusSeries, ok := domain.Field(msg.Content, "StatusSeries")
	if !ok {
		return nil
	}

	var docs []domain.Document
	for _, item := range domain.IndexedItems(statusSeries) {
		statusVal, ok := domain.Field(item.Value, "SessionStatus")
		if !ok {
			continue
		}
		status, ok := domain.Str(statusVal)
		if !ok {
			continue
		}
		if _, silent := silentStatuses[status]; silent {
			continue
		}

		date := msg.Timepoint
		if utc, ok := domain.Field(item.Value, "Utc"); ok {
			if s, ok := domain.Str(utc); ok {
				if parsed, err := domain.ParseUTC(s); err == nil {
					date = parsed
				}
			}
		}

		text := fmt.Sprintf("SESSION %s", upperSnake(status))
		if p.qualifyingPart > 0 {
			text = fmt.Sprintf("%s (Q%d)", text, p.qualifyingPart)
		}
		category := "SessionStatus"
		docs = append(docs, RaceControl{
			MeetingKey: p.meetingKey,
			SessionKey: p.sessionKey,
			Date:       &date,
			LapNumber:  p.currentLap,
			Category:   &category,
			Message:    &text,
		})
	}
	return docs
}

func optionalStr(v any) *string {
	if v == nil {
		return nil
	}
	s, ok := domain.Str(v)
	if !ok {
		return nil
	}
	return &s
}

func optionalInt(v any) *int {
	if v == nil {
		return nil
	}
	n, ok := domain.Int(v)
	if !ok {
		return nil
	}
	return &n
}

func upperSnake(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
