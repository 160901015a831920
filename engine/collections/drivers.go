package collections

import (
	"sort"

	"github.com/pitwall/pitwall/engine/domain"
)

// Upstream key names to output field names.
var driverKeyMapping = map[string]string{
	"BroadcastName": "broadcast_name",
	"CountryCode":   "country_code",
	"FirstName":     "first_name",
	"FullName":      "full_name",
	"HeadshotUrl":   "headshot_url",
	"LastName":      "last_name",
	"TeamColour":    "team_colour",
	"TeamName":      "team_name",
	"Tla":           "name_acronym",
}

// Driver is the session entry of one driver.
type Driver struct {
	MeetingKey    int     `json:"meeting_key" bson:"meeting_key"`
	SessionKey    int     `json:"session_key" bson:"session_key"`
	DriverNumber  int     `json:"driver_number" bson:"driver_number"`
	BroadcastName *string `json:"broadcast_name" bson:"broadcast_name"`
	FullName      *string `json:"full_name" bson:"full_name"`
	NameAcronym   *string `json:"name_acronym" bson:"name_acronym"`
	TeamName      *string `json:"team_name" bson:"team_name"`
	TeamColour    *string `json:"team_colour" bson:"team_colour"`
	FirstName     *string `json:"first_name" bson:"first_name"`
	LastName      *string `json:"last_name" bson:"last_name"`
	HeadshotURL   *string `json:"headshot_url" bson:"headshot_url"`
	CountryCode   *string `json:"country_code" bson:"country_code"`
}

func (d Driver) Collection() string { return "drivers" }

func (d Driver) UniqueKey() []any { return []any{d.SessionKey, d.DriverNumber} }

func (d *Driver) fieldFor(name string) **string {
	switch name {
	case "broadcast_name":
		return &d.BroadcastName
	case "country_code":
		return &d.CountryCode
	case "first_name":
		return &d.FirstName
	case "full_name":
		return &d.FullName
	case "headshot_url":
		return &d.HeadshotURL
	case "last_name":
		return &d.LastName
	case "team_colour":
		return &d.TeamColour
	case "team_name":
		return &d.TeamName
	case "name_acronym":
		return &d.NameAcronym
	default:
		return nil
	}
}

type driversProcessor struct {
	meetingKey int
	sessionKey int

	drivers map[int]*Driver
	updated map[*Driver]struct{}
}

func newDrivers(meetingKey, sessionKey int) *driversProcessor {
	return &driversProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		drivers:    make(map[int]*Driver),
		updated:    make(map[*Driver]struct{}),
	}
}

func (p *driversProcessor) Name() string           { return "drivers" }
func (p *driversProcessor) SourceTopics() []string { return []string{"DriverList"} }
func (p *driversProcessor) Stateful() bool         { return true }

// A driver is re-emitted only when some visible field actually changed.
func (p *driversProcessor) Process(msg domain.Message) []domain.Document {
	for _, entry := range domain.DriverEntries(msg.Content) {
		data, ok := domain.AsMap(entry.Value)
		if !ok {
			continue
		}
		driver := p.drivers[entry.Number]
		if driver == nil {
			driver = &Driver{
				MeetingKey:   p.meetingKey,
				SessionKey:   p.sessionKey,
				DriverNumber: entry.Number,
			}
			p.drivers[entry.Number] = driver
			p.updated[driver] = struct{}{}
		}
		for topicKey, fieldName := range driverKeyMapping {
			raw, ok := data[topicKey]
			if !ok {
				continue
			}
			value, ok := domain.Str(raw)
			if !ok {
				continue
			}
			dst := driver.fieldFor(fieldName)
			if *dst == nil || **dst != value {
				*dst = &value
				p.updated[driver] = struct{}{}
			}
		}
	}

	if len(p.updated) == 0 {
		return nil
	}
	docs := make([]domain.Document, 0, len(p.updated))
	for d := range p.updated {
		docs = append(docs, *d)
	}
	p.updated = make(map[*Driver]struct{})
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].(Driver).DriverNumber < docs[j].(Driver).DriverNumber
	})
	return docs
}
