package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Meeting is the descriptive record of a race weekend. Several sessions
// share one meeting; readers keep the earliest version rather than the
// latest, so repeated emissions across sessions are harmless.
type Meeting struct {
	MeetingKey          int        `json:"meeting_key" bson:"meeting_key"`
	CircuitKey          *int       `json:"circuit_key" bson:"circuit_key"`
	CircuitShortName    *string    `json:"circuit_short_name" bson:"circuit_short_name"`
	MeetingCode         *string    `json:"meeting_code" bson:"meeting_code"`
	Location            *string    `json:"location" bson:"location"`
	CountryKey          *int       `json:"country_key" bson:"country_key"`
	CountryCode         *string    `json:"country_code" bson:"country_code"`
	CountryName         *string    `json:"country_name" bson:"country_name"`
	MeetingName         *string    `json:"meeting_name" bson:"meeting_name"`
	MeetingOfficialName *string    `json:"meeting_official_name" bson:"meeting_official_name"`
	GMTOffset           *string    `json:"gmt_offset" bson:"gmt_offset"`
	DateStart           *time.Time `json:"date_start" bson:"date_start"`
	Year                *int       `json:"year" bson:"year"`
}

func (d Meeting) Collection() string { return "meetings" }

func (d Meeting) UniqueKey() []any { return []any{d.MeetingKey} }

type meetingsProcessor struct {
	meetingKey int
	sessionKey int
}

func newMeetings(meetingKey, sessionKey int) *meetingsProcessor {
	return &meetingsProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *meetingsProcessor) Name() string           { return "meetings" }
func (p *meetingsProcessor) SourceTopics() []string { return []string{"SessionInfo"} }
func (p *meetingsProcessor) Stateful() bool         { return false }

func (p *meetingsProcessor) Process(msg domain.Message) []domain.Document {
	data, ok := domain.AsMap(msg.Content)
	if !ok {
		return nil
	}

	gmtOffset := optionalStr(data["GmtOffset"])
	dateStart := localDate(data["StartDate"], gmtOffset)

	var year *int
	if dateStart != nil {
		y := dateStart.Year()
		year = &y
	}

	meeting, _ := domain.AsMap(data["Meeting"])
	country, _ := domain.AsMap(meeting["Country"])
	circuit, _ := domain.AsMap(meeting["Circuit"])

	return []domain.Document{Meeting{
		MeetingKey:          p.meetingKey,
		CircuitKey:          optionalInt(circuit["Key"]),
		CircuitShortName:    optionalStr(circuit["ShortName"]),
		MeetingCode:         optionalStr(country["Code"]),
		Location:            optionalStr(meeting["Location"]),
		CountryKey:          optionalInt(country["Key"]),
		CountryCode:         optionalStr(country["Code"]),
		CountryName:         optionalStr(country["Name"]),
		MeetingName:         optionalStr(meeting["Name"]),
		MeetingOfficialName: optionalStr(meeting["OfficialName"]),
		GMTOffset:           gmtOffset,
		DateStart:           dateStart,
		Year:                year,
	}}
}
