package collections

import (
	"github.com/pitwall/pitwall/engine/domain"
)

// ChampionshipDriver is the live drivers' title prediction for one driver:
// standing and points at the start of the session, and as predicted from the
// running order.
type ChampionshipDriver struct {
	MeetingKey      int      `json:"meeting_key" bson:"meeting_key"`
	SessionKey      int      `json:"session_key" bson:"session_key"`
	DriverNumber    int      `json:"driver_number" bson:"driver_number"`
	PositionStart   *int     `json:"position_start" bson:"position_start"`
	PositionCurrent *int     `json:"position_current" bson:"position_current"`
	PointsStart     *float64 `json:"points_start" bson:"points_start"`
	PointsCurrent   *float64 `json:"points_current" bson:"points_current"`
}

func (d ChampionshipDriver) Collection() string { return "championship_drivers" }

func (d ChampionshipDriver) UniqueKey() []any {
	return []any{d.SessionKey, d.DriverNumber}
}

type championshipDriversProcessor struct {
	meetingKey int
	sessionKey int

	rows map[int]*ChampionshipDriver
}

func newChampionshipDrivers(meetingKey, sessionKey int) *championshipDriversProcessor {
	return &championshipDriversProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		rows:       make(map[int]*ChampionshipDriver),
	}
}

func (p *championshipDriversProcessor) Name() string { return "championship_drivers" }
func (p *championshipDriversProcessor) SourceTopics() []string {
	return []string{"ChampionshipPrediction"}
}
func (p *championshipDriversProcessor) Stateful() bool { return true }

func (p *championshipDriversProcessor) Process(msg domain.Message) []domain.Document {
	drivers, ok := domain.Field(msg.Content, "Drivers")
	if !ok {
		return nil
	}
	var docs []domain.Document
	for _, entry := range domain.DriverEntries(drivers) {
		data, ok := domain.AsMap(entry.Value)
		if !ok {
			continue
		}
		row := p.rows[entry.Number]
		if row == nil {
			row = &ChampionshipDriver{
				MeetingKey:   p.meetingKey,
				SessionKey:   p.sessionKey,
				DriverNumber: entry.Number,
			}
			p.rows[entry.Number] = row
		}
		applyPrediction(data, &row.PositionStart, &row.PositionCurrent,
			&row.PointsStart, &row.PointsCurrent)
		docs = append(docs, *row)
	}
	return docs
}

// applyPrediction folds the prediction fields shared by the driver and team
// standings. A zero position means the upstream has not computed one yet.
func applyPrediction(data map[string]any, posStart, posCurrent **int, ptsStart, ptsCurrent **float64) {
	if v, ok := data["CurrentPosition"]; ok {
		if n, ok := domain.Int(v); ok && n > 0 {
			*posStart = &n
		}
	}
	if v, ok := data["PredictedPosition"]; ok {
		if n, ok := domain.Int(v); ok && n > 0 {
			*posCurrent = &n
		}
	}
	if v, ok := data["CurrentPoints"]; ok {
		if f, ok := domain.Float(v); ok {
			*ptsStart = &f
		}
	}
	if v, ok := data["PredictedPoints"]; ok {
		if f, ok := domain.Float(v); ok {
			*ptsCurrent = &f
		}
	}
}
