package collections

import (
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Session is the descriptive record of one timed session (practice,
// qualifying, race). Start and end are local wall clock plus a signed GMT
// offset, converted to UTC.
type Session struct {
	MeetingKey       int        `json:"meeting_key" bson:"meeting_key"`
	SessionKey       int        `json:"session_key" bson:"session_key"`
	Location         *string    `json:"location" bson:"location"`
	DateStart        *time.Time `json:"date_start" bson:"date_start"`
	DateEnd          *time.Time `json:"date_end" bson:"date_end"`
	SessionType      *string    `json:"session_type" bson:"session_type"`
	SessionName      *string    `json:"session_name" bson:"session_name"`
	CountryKey       *int       `json:"country_key" bson:"country_key"`
	CountryCode      *string    `json:"country_code" bson:"country_code"`
	CountryName      *string    `json:"country_name" bson:"country_name"`
	CircuitKey       *int       `json:"circuit_key" bson:"circuit_key"`
	CircuitShortName *string    `json:"circuit_short_name" bson:"circuit_short_name"`
	GMTOffset        *string    `json:"gmt_offset" bson:"gmt_offset"`
	Year             *int       `json:"year" bson:"year"`
}

func (d Session) Collection() string { return "sessions" }

func (d Session) UniqueKey() []any { return []any{d.SessionKey} }

type sessionsProcessor struct {
	meetingKey int
	sessionKey int
}

func newSessions(meetingKey, sessionKey int) *sessionsProcessor {
	return &sessionsProcessor{meetingKey: meetingKey, sessionKey: sessionKey}
}

func (p *sessionsProcessor) Name() string           { return "sessions" }
func (p *sessionsProcessor) SourceTopics() []string { return []string{"SessionInfo"} }
func (p *sessionsProcessor) Stateful() bool         { return false }

func (p *sessionsProcessor) Process(msg domain.Message) []domain.Document {
	data, ok := domain.AsMap(msg.Content)
	if !ok {
		return nil
	}

	gmtOffset := optionalStr(data["GmtOffset"])

	dateStart := localDate(data["StartDate"], gmtOffset)
	dateEnd := localDate(data["EndDate"], gmtOffset)

	var year *int
	if dateStart != nil {
		y := dateStart.Year()
		year = &y
	}

	meeting, _ := domain.AsMap(data["Meeting"])
	country, _ := domain.AsMap(meeting["Country"])
	circuit, _ := domain.AsMap(meeting["Circuit"])

	return []domain.Document{Session{
		MeetingKey:       p.meetingKey,
		SessionKey:       p.sessionKey,
		Location:         optionalStr(meeting["Location"]),
		DateStart:        dateStart,
		DateEnd:          dateEnd,
		SessionType:      optionalStr(data["Type"]),
		SessionName:      optionalStr(data["Name"]),
		CountryKey:       optionalInt(country["Key"]),
		CountryCode:      optionalStr(country["Code"]),
		CountryName:      optionalStr(country["Name"]),
		CircuitKey:       optionalInt(circuit["Key"]),
		CircuitShortName: optionalStr(circuit["ShortName"]),
		GMTOffset:        gmtOffset,
		Year:             year,
	}}
}

// localDate parses a naive local datetime and shifts it to UTC using the
// session's GMT offset.
func localDate(v any, gmtOffset *string) *time.Time {
	if v == nil {
		return nil
	}
	s, ok := domain.Str(v)
	if !ok {
		return nil
	}
	local, err := domain.ParseUTC(s)
	if err != nil {
		return nil
	}
	if gmtOffset == nil {
		return &local
	}
	utc, err := domain.ApplyGMTOffset(local, *gmtOffset)
	if err != nil {
		return &local
	}
	return &utc
}
