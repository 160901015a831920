package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// CarData is one telemetry sample for one car.
type CarData struct {
	MeetingKey   int       `json:"meeting_key" bson:"meeting_key"`
	SessionKey   int       `json:"session_key" bson:"session_key"`
	DriverNumber int       `json:"driver_number" bson:"driver_number"`
	Date         time.Time `json:"date" bson:"date"`
	RPM          *int      `json:"rpm" bson:"rpm"`
	Speed        *int      `json:"speed" bson:"speed"`
	NGear        *int      `json:"n_gear" bson:"n_gear"`
	Throttle     *int      `json:"throttle" bson:"throttle"`
	Brake        *int      `json:"brake" bson:"brake"`
	DRS          *int      `json:"drs" bson:"drs"`
}

func (d CarData) Collection() string { return "car_data" }

func (d CarData) UniqueKey() []any { return []any{d.Date, d.DriverNumber} }

type carDataProcessor struct {
	meetingKey int
	sessionKey int
}

func newCarData(meetingKey, sessionKey int) *carDataProcessor {
	return &carDataProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *carDataProcessor) Name() string           { return "car_data" }
func (p *carDataProcessor) SourceTopics() []string { return []string{"CarData.z"} }
func (p *carDataProcessor) Stateful() bool         { return false }

func (p *carDataProcessor) Process(msg domain.Message) []domain.Document {
	entries, _ := domain.Field(msg.Content, "Entries")
	list, ok := domain.AsSlice(entries)
	if !ok {
		return nil
	}

	var docs []domain.Document
	for _, entry := range list {
		utc, ok := domain.Field(entry, "Utc")
		if !ok {
			continue
		}
		utcStr, ok := domain.Str(utc)
		if !ok {
			continue
		}
		date, err := domain.ParseUTC(utcStr)
		if err != nil {
			continue
		}

		cars, _ := domain.Field(entry, "Cars")
		for _, car := range domain.DriverEntries(cars) {
			channels, ok := domain.Field(car.Value, "Channels")
			if !ok {
				continue
			}
			ch, ok := domain.AsMap(channels)
			if !ok {
				continue
			}
			docs = append(docs, CarData{
				MeetingKey:   p.meetingKey,
				SessionKey:   p.sessionKey,
				DriverNumber: car.Number,
				Date:         date,
				RPM:          channelInt(ch, "0"),
				Speed:        channelInt(ch, "2"),
				NGear:        channelInt(ch, "3"),
				Throttle:     channelInt(ch, "4"),
				Brake:        channelInt(ch, "5"),
				DRS:          channelInt(ch, "45"),
			})
		}
	}
	return docs
}

func channelInt(channels map[string]any, key string) *int {
	v, ok := channels[key]
	if !ok {
		return nil
	}
	n, ok := domain.Int(v)
	if !ok {
		return nil
	}
	return &n
}
