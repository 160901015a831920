package collections

import (
	"sort"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Overtake records one driver passing another.
type Overtake struct {
	MeetingKey       int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey       int       `json:"session_key" bson:"session_key"`
	OvertakingDriver int       `json:"overtaking_driver_number" bson:"overtaking_driver_number"`
	OvertakenDriver  int       `json:"overtaken_driver_number" bson:"overtaken_driver_number"`
	Date             time.Time `json:"date" bson:"date"`
	Position         int       `json:"position" bson:"position"`
}

func (d Overtake) Collection() string { return "overtakes" }

func (d Overtake) UniqueKey() []any {
	return []any{d.Date, d.OvertakingDriver, d.OvertakenDriver}
}

type overtakesProcessor struct {
	meetingKey int
	sessionKey int
}

func newOvertakes(meetingKey, sessionKey int) *overtakesProcessor {
	return &overtakesProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *overtakesProcessor) Name() string           { return "overtakes" }
func (p *overtakesProcessor) SourceTopics() []string { return []string{"DriverRaceInfo"} }
func (p *overtakesProcessor) Stateful() bool         { return false }

// The overtaking driver carries OvertakeState == 2; the drivers it passed
// appear in the same message with a Position and no (or another)
// OvertakeState.
func (p *overtakesProcessor) Process(msg domain.Message) []domain.Document {
	entries := domain.DriverEntries(msg.Content)

	overtaking := -1
	for _, e := range entries {
		state, ok := domain.Field(e.Value, "OvertakeState")
		if !ok {
			continue
		}
		if n, ok := domain.Int(state); ok && n == 2 {
			overtaking = e.Number
			break
		}
	}
	if overtaking < 0 {
		return nil
	}

	type passed struct {
		position int
		driver   int
	}
	var overtaken []passed
	for _, e := range entries {
		if e.Number == overtaking {
			continue
		}
		if state, ok := domain.Field(e.Value, "OvertakeState"); ok {
			if n, ok := domain.Int(state); ok && n == 2 {
				continue
			}
		}
		posVal, ok := domain.Field(e.Value, "Position")
		if !ok {
			continue
		}
		pos, ok := domain.Int(posVal)
		if !ok {
			continue
		}
		overtaken = append(overtaken, passed{position: pos, driver: e.Number})
	}
	if len(overtaken) == 0 {
		return nil
	}

	// Deepest position first: chronological order of the passes.
	sort.Slice(overtaken, func(i, j int) bool {
		if overtaken[i].position != overtaken[j].position {
			return overtaken[i].position > overtaken[j].position
		}
		return overtaken[i].driver > overtaken[j].driver
	})

	docs := make([]domain.Document, 0, len(overtaken))
	for _, o := range overtaken {
		// Position is where the overtaken driver ended up; the pass itself
		// happened one place ahead.
		docs = append(docs, Overtake{
			MeetingKey:       p.meetingKey,
			SessionKey:       p.sessionKey,
			OvertakingDriver: overtaking,
			OvertakenDriver:  o.driver,
			Date:             msg.Timepoint,
			Position:         o.position - 1,
		})
	}
	return docs
}
