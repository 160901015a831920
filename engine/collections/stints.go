package collections

import (
	"sort"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Stint is one continuous run on a set of tyres.
type Stint struct {
	MeetingKey     int     `json:"meeting_key" bson:"meeting_key"`
	SessionKey     int     `json:"session_key" bson:"session_key"`
	StintNumber    int     `json:"stint_number" bson:"stint_number"`
	DriverNumber   int     `json:"driver_number" bson:"driver_number"`
	LapStart       *int    `json:"lap_start" bson:"lap_start"`
	LapEnd         *int    `json:"lap_end" bson:"lap_end"`
	Compound       *string `json:"compound" bson:"compound"`
	TyreAgeAtStart *int    `json:"tyre_age_at_start" bson:"tyre_age_at_start"`

	// Timestamp of the latest lap-count bump, used only by the
	// lap_end correction when the next stint opens.
	dateStartLastLap *time.Time
}

func (d Stint) Collection() string { return "stints" }

func (d Stint) UniqueKey() []any {
	return []any{d.SessionKey, d.StintNumber, d.DriverNumber}
}

type stintsProcessor struct {
	meetingKey int
	sessionKey int

	stints  map[int]map[int]*Stint // driver -> stint number -> stint
	updated map[*Stint]struct{}
}

func newStints(meetingKey, sessionKey int) *stintsProcessor {
	return &stintsProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		stints:     make(map[int]map[int]*Stint),
		updated:    make(map[*Stint]struct{}),
	}
}

func (p *stintsProcessor) Name() string           { return "stints" }
func (p *stintsProcessor) SourceTopics() []string { return []string{"TimingAppData", "TimingData"} }
func (p *stintsProcessor) Stateful() bool         { return true }

func (p *stintsProcessor) Process(msg domain.Message) []domain.Document {
	switch msg.Topic {
	case "TimingAppData":
		p.handleTimingAppData(msg)
	case "TimingData":
		p.handleTimingData(msg)
	}
	return p.flush()
}

func (p *stintsProcessor) handleTimingAppData(msg domain.Message) {
	lines, _ := domain.Field(msg.Content, "Lines")
	for _, entry := range domain.DriverEntries(lines) {
		stintsData, ok := domain.Field(entry.Value, "Stints")
		if !ok || stintsData == nil {
			continue
		}
		for _, item := range domain.IndexedItems(stintsData) {
			stintNumber := item.Index + 1
			stint := p.stint(entry.Number, stintNumber)
			if stint == nil {
				stint = p.addStint(entry.Number, stintNumber, msg.Timepoint)
			}
			data, ok := domain.AsMap(item.Value)
			if !ok {
				continue
			}
			if compound, ok := data["Compound"]; ok {
				if s, ok := domain.Str(compound); ok {
					if stint.Compound == nil || *stint.Compound != s {
						stint.Compound = &s
						p.markUpdated(stint)
					}
				}
			}
			// TotalLaps keeps counting over the stint; only the first
			// value is the age at fitting.
			if totalLaps, ok := data["TotalLaps"]; ok && stint.TyreAgeAtStart == nil {
				if n, ok := domain.Int(totalLaps); ok {
					stint.TyreAgeAtStart = &n
					p.markUpdated(stint)
				}
			}
		}
	}
}

func (p *stintsProcessor) handleTimingData(msg domain.Message) {
	lines, ok := domain.Field(msg.Content, "Lines")
	if !ok {
		return
	}
	for _, entry := range domain.DriverEntries(lines) {
		data, ok := domain.AsMap(entry.Value)
		if !ok {
			continue
		}
		if len(p.stints[entry.Number]) == 0 {
			p.addStint(entry.Number, 1, msg.Timepoint)
		}
		nLapsVal, ok := data["NumberOfLaps"]
		if !ok {
			continue
		}
		nLaps, ok := domain.Int(nLapsVal)
		if !ok {
			continue
		}
		stint := p.lastStint(entry.Number)
		if stint == nil {
			continue
		}
		if stint.LapStart == nil {
			start := nLaps
			stint.LapStart = &start
			p.markUpdated(stint)
		}
		if stint.LapEnd == nil || *stint.LapEnd != nLaps {
			end := nLaps
			stint.LapEnd = &end
			p.markUpdated(stint)
		}
		tp := msg.Timepoint
		stint.dateStartLastLap = &tp
	}
}

func (p *stintsProcessor) stint(driver, number int) *Stint {
	return p.stints[driver][number]
}

func (p *stintsProcessor) lastStint(driver int) *Stint {
	var last *Stint
	for _, s := range p.stints[driver] {
		if last == nil || s.StintNumber > last.StintNumber {
			last = s
		}
	}
	return last
}

// addStint opens a new stint. Lap information sometimes lands just before
// the stint announcement; when the previous stint's lap counter bumped
// within the last 10 s that bump belonged to the new stint, so back it out.
func (p *stintsProcessor) addStint(driver, number int, tp time.Time) *Stint {
	last := p.lastStint(driver)
	if last != nil && last.dateStartLastLap != nil && last.LapEnd != nil &&
		tp.Sub(*last.dateStartLastLap) < lateUpdateWindow {
		end := *last.LapEnd - 1
		last.LapEnd = &end
		p.markUpdated(last)
	}

	stint := &Stint{
		MeetingKey:   p.meetingKey,
		SessionKey:   p.sessionKey,
		DriverNumber: driver,
		StintNumber:  number,
	}
	if last != nil && last.LapEnd != nil {
		start := *last.LapEnd + 1
		end := start
		stint.LapStart = &start
		stint.LapEnd = &end
	}
	if p.stints[driver] == nil {
		p.stints[driver] = make(map[int]*Stint)
	}
	p.stints[driver][number] = stint
	p.markUpdated(stint)
	return stint
}

func (p *stintsProcessor) markUpdated(s *Stint) {
	p.updated[s] = struct{}{}
}

func (p *stintsProcessor) flush() []domain.Document {
	if len(p.updated) == 0 {
		return nil
	}
	docs := make([]domain.Document, 0, len(p.updated))
	for s := range p.updated {
		docs = append(docs, *s)
	}
	p.updated = make(map[*Stint]struct{})
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i].(Stint), docs[j].(Stint)
		if a.DriverNumber != b.DriverNumber {
			return a.DriverNumber < b.DriverNumber
		}
		return a.StintNumber < b.StintNumber
	})
	return docs
}
