package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Weather is one sample of trackside conditions.
type Weather struct {
	MeetingKey       int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey       int       `json:"session_key" bson:"session_key"`
	Date             time.Time `json:"date" bson:"date"`
	AirTemperature   *float64  `json:"air_temperature" bson:"air_temperature"`
	Humidity         *float64  `json:"humidity" bson:"humidity"`
	Pressure         *float64  `json:"pressure" bson:"pressure"`
	Rainfall         *int      `json:"rainfall" bson:"rainfall"`
	TrackTemperature *float64  `json:"track_temperature" bson:"track_temperature"`
	WindDirection    *int      `json:"wind_direction" bson:"wind_direction"`
	WindSpeed        *float64  `json:"wind_speed" bson:"wind_speed"`
}

func (d Weather) Collection() string { return "weather" }

func (d Weather) UniqueKey() []any { return []any{d.Date} }

type weatherProcessor struct {
	meetingKey int
	sessionKey int
}

func newWeather(meetingKey, sessionKey int) *weatherProcessor {
	return &weatherProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *weatherProcessor) Name() string           { return "weather" }
func (p *weatherProcessor) SourceTopics() []string { return []string{"WeatherData"} }
func (p *weatherProcessor) Stateful() bool         { return false }

func (p *weatherProcessor) Process(msg domain.Message) []domain.Document {
	data, ok := domain.AsMap(msg.Content)
	if !ok {
		return nil
	}
	return []domain.Document{Weather{
		MeetingKey:       p.meetingKey,
		SessionKey:       p.sessionKey,
		Date:             msg.Timepoint,
		AirTemperature:   optionalFloat(data["AirTemp"]),
		Humidity:         optionalFloat(data["Humidity"]),
		Pressure:         optionalFloat(data["Pressure"]),
		Rainfall:         optionalInt(data["Rainfall"]),
		TrackTemperature: optionalFloat(data["TrackTemp"]),
		WindDirection:    optionalInt(data["WindDirection"]),
		WindSpeed:        optionalFloat(data["WindSpeed"]),
	}}
}

func optionalFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	f, ok := domain.Float(v)
	if !ok {
		return nil
	}
	return &f
}
