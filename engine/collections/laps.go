package collections

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pitwall/pitwall/engine/domain"
)

// Lap is one timed lap of one driver. Sector durations and segment statuses
// trickle in over many messages; the processor folds them into this record
// and re-emits it whenever something observable changed.
type Lap struct {
	MeetingKey      int        `json:"meeting_key" bson:"meeting_key"`
	SessionKey      int        `json:"session_key" bson:"session_key"`
	DriverNumber    int        `json:"driver_number" bson:"driver_number"`
	LapNumber       int        `json:"lap_number" bson:"lap_number"`
	DateStart       *time.Time `json:"date_start" bson:"date_start"`
	DurationSector1 *float64   `json:"duration_sector_1" bson:"duration_sector_1"`
	DurationSector2 *float64   `json:"duration_sector_2" bson:"duration_sector_2"`
	DurationSector3 *float64   `json:"duration_sector_3" bson:"duration_sector_3"`
	I1Speed         *int       `json:"i1_speed" bson:"i1_speed"`
	I2Speed         *int       `json:"i2_speed" bson:"i2_speed"`
	IsPitOutLap     bool       `json:"is_pit_out_lap" bson:"is_pit_out_lap"`
	LapDuration     *float64   `json:"lap_duration" bson:"lap_duration"`
	SegmentsSector1 []*int     `json:"segments_sector_1" bson:"segments_sector_1"`
	SegmentsSector2 []*int     `json:"segments_sector_2" bson:"segments_sector_2"`
	SegmentsSector3 []*int     `json:"segments_sector_3" bson:"segments_sector_3"`
	STSpeed         *int       `json:"st_speed" bson:"st_speed"`
}

func (d Lap) Collection() string { return "laps" }

func (d Lap) UniqueKey() []any {
	return []any{d.SessionKey, d.LapNumber, d.DriverNumber}
}

// snapshot returns a copy safe to hand to the sink while the processor keeps
// mutating the live row.
func (d *Lap) snapshot() Lap {
	c := *d
	c.SegmentsSector1 = append([]*int(nil), d.SegmentsSector1...)
	c.SegmentsSector2 = append([]*int(nil), d.SegmentsSector2...)
	c.SegmentsSector3 = append([]*int(nil), d.SegmentsSector3...)
	return c
}

const lateUpdateWindow = 10 * time.Second

type lapsProcessor struct {
	meetingKey int
	sessionKey int

	isRace    bool
	started   bool
	raceStart *time.Time
	chequered *time.Time

	laps    map[int][]*Lap // per driver, last element is the current lap
	updated map[*Lap]struct{}
}

func newLaps(meetingKey, sessionKey int) *lapsProcessor {
	return &lapsProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		laps:       make(map[int][]*Lap),
		updated:    make(map[*Lap]struct{}),
	}
}

func (p *lapsProcessor) Name() string { return "laps" }

func (p *lapsProcessor) SourceTopics() []string {
	return []string{"SessionInfo", "SessionData", "RaceControlMessages", "TimingAppData", "TimingData"}
}

func (p *lapsProcessor) Stateful() bool { return true }

func (p *lapsProcessor) Process(msg domain.Message) []domain.Document {
	switch msg.Topic {
	case "SessionInfo":
		p.handleSessionInfo(msg)
	case "SessionData":
		p.handleSessionData(msg)
	case "RaceControlMessages":
		p.handleRaceControl(msg)
	case "TimingAppData":
		p.handleTimingAppData(msg)
	case "TimingData":
		p.handleTimingData(msg)
	}
	return p.flush()
}

func (p *lapsProcessor) handleSessionInfo(msg domain.Message) {
	if typ, ok := domain.Field(msg.Content, "Type"); ok {
		if s, ok := domain.Str(typ); ok {
			p.isRace = strings.EqualFold(s, "Race")
		}
	}
}

// handleSessionData times the race start from the "Started" status and the
// chequered flag from the "Finished" status. Lap 1 of a race has no
// NumberOfLaps bump, so its date_start is backfilled from the start signal.
func (p *lapsProcessor) handleSessionData(msg domain.Message) {
	series, ok := domain.Field(msg.Content, "StatusSeries")
	if !ok {
		return
	}
	for _, item := range domain.IndexedItems(series) {
		status, ok := domain.Field(item.Value, "SessionStatus")
		if !ok {
			continue
		}
		s, _ := domain.Str(status)
		tp := msg.Timepoint
		if utc, ok := domain.Field(item.Value, "Utc"); ok {
			if utcStr, ok := domain.Str(utc); ok {
				if parsed, err := domain.ParseUTC(utcStr); err == nil {
					tp = parsed
				}
			}
		}
		switch s {
		case "Started":
			if p.isRace && p.raceStart == nil {
				start := tp
				p.raceStart = &start
				p.backfillFirstLaps()
			}
		case "Finished":
			if p.isRace && p.chequered == nil {
				end := tp
				p.chequered = &end
			}
		}
	}
}

// handleRaceControl is the chequered-flag fallback for sessions whose
// SessionData "Finished" status never arrives.
func (p *lapsProcessor) handleRaceControl(msg domain.Message) {
	if !p.isRace || p.chequered != nil {
		return
	}
	messages, ok := domain.Field(msg.Content, "Messages")
	if !ok {
		return
	}
	for _, item := range domain.IndexedItems(messages) {
		flag, ok := domain.Field(item.Value, "Flag")
		if !ok {
			continue
		}
		if s, _ := domain.Str(flag); s != "CHEQUERED" {
			continue
		}
		tp := msg.Timepoint
		if utc, ok := domain.Field(item.Value, "Utc"); ok {
			if utcStr, ok := domain.Str(utc); ok {
				if parsed, err := domain.ParseUTC(utcStr); err == nil {
					tp = parsed
				}
			}
		}
		p.chequered = &tp
		return
	}
}

func (p *lapsProcessor) handleTimingAppData(msg domain.Message) {
	lines, _ := domain.Field(msg.Content, "Lines")
	for _, entry := range domain.DriverEntries(lines) {
		if stints, ok := domain.Field(entry.Value, "Stints"); ok && stints != nil {
			p.started = true
			return
		}
	}
}

func (p *lapsProcessor) handleTimingData(msg domain.Message) {
	if !p.started {
		return
	}
	lines, _ := domain.Field(msg.Content, "Lines")
	for _, entry := range domain.DriverEntries(lines) {
		data, ok := domain.AsMap(entry.Value)
		if !ok {
			continue
		}
		p.processDriverLine(entry.Number, data, msg.Timepoint)
	}
}

func (p *lapsProcessor) processDriverLine(driver int, data map[string]any, tp time.Time) {
	if lastLap, ok := domain.Field(data["LastLapTime"], "Value"); ok {
		if s, ok := domain.Str(lastLap); ok && s != "" {
			if d, err := domain.ParseSessionTime(s); err == nil {
				p.setLapDuration(driver, d.Seconds(), true, tp)
			}
		}
	}

	if sectors, ok := data["Sectors"]; ok {
		for _, sector := range domain.IndexedItems(sectors) {
			sectorNumber := sector.Index + 1
			if sectorNumber < 1 || sectorNumber > 3 {
				continue
			}
			// Sector 2 and 3 results may land after the next lap opened.
			endOfLap := sectorNumber >= 2

			if value, ok := domain.Field(sector.Value, "Value"); ok {
				if f, ok := domain.Float(value); ok && f > 0 {
					p.setSectorDuration(driver, sectorNumber, f, endOfLap, tp)
				}
			}
			if segments, ok := domain.Field(sector.Value, "Segments"); ok {
				for _, seg := range domain.IndexedItems(segments) {
					status, ok := domain.Field(seg.Value, "Status")
					if !ok {
						continue
					}
					if n, ok := domain.Int(status); ok {
						p.setSegmentStatus(driver, sectorNumber, seg.Index, n, endOfLap, tp)
					}
				}
			}
		}
	}

	if speeds, ok := domain.AsMap(data["Speeds"]); ok {
		for label, speedData := range speeds {
			if label != "ST" && !strings.HasPrefix(label, "I") {
				continue
			}
			value, ok := domain.Field(speedData, "Value")
			if !ok {
				continue
			}
			if n, ok := domain.Int(value); ok {
				p.setSpeed(driver, label, n, tp)
			}
		}
	}

	if nLapsVal, ok := data["NumberOfLaps"]; ok {
		if nLaps, ok := domain.Int(nLapsVal); ok {
			p.onLapCount(driver, nLaps, tp)
		}
	}

	if pitOut, ok := data["PitOut"]; ok && pitOut != nil {
		lap := p.currentLap(driver)
		if !lap.IsPitOutLap {
			lap.IsPitOutLap = true
			p.markUpdated(lap)
		}
	}
}

// onLapCount opens a new lap when the upstream lap counter advances. In a
// race NumberOfLaps counts completed laps, so the lap being started is one
// ahead of it.
func (p *lapsProcessor) onLapCount(driver, nLaps int, tp time.Time) {
	lapNumber := nLaps
	if p.isRace {
		lapNumber = nLaps + 1
	}
	current := p.currentLap(driver)
	if lapNumber > current.LapNumber {
		lap := p.addLap(driver, lapNumber)
		start := tp
		lap.DateStart = &start
		p.markUpdated(lap)
		p.inferFirstRaceLap(driver)
	}
}

// inferFirstRaceLap fills lap 1's duration from lap 2's start once known,
// then completes a missing sector 1 from the remainder.
func (p *lapsProcessor) inferFirstRaceLap(driver int) {
	if !p.isRace {
		return
	}
	laps := p.laps[driver]
	if len(laps) < 2 {
		return
	}
	lap1, lap2 := laps[0], laps[1]
	if lap1.LapNumber != 1 || lap2.LapNumber != 2 {
		return
	}
	if lap1.LapDuration == nil && lap1.DateStart != nil && lap2.DateStart != nil {
		d := round3(lap2.DateStart.Sub(*lap1.DateStart).Seconds())
		if d > 0 {
			lap1.LapDuration = &d
			p.markUpdated(lap1)
			p.inferMissingSector(lap1)
		}
	}
}

func (p *lapsProcessor) currentLap(driver int) *Lap {
	laps := p.laps[driver]
	if len(laps) == 0 {
		return p.addLap(driver, 1)
	}
	return laps[len(laps)-1]
}

func (p *lapsProcessor) addLap(driver, lapNumber int) *Lap {
	lap := &Lap{
		MeetingKey:   p.meetingKey,
		SessionKey:   p.sessionKey,
		DriverNumber: driver,
		LapNumber:    lapNumber,
	}
	if lapNumber == 1 && p.isRace && p.raceStart != nil {
		start := *p.raceStart
		lap.DateStart = &start
	}
	p.laps[driver] = append(p.laps[driver], lap)
	return lap
}

func (p *lapsProcessor) backfillFirstLaps() {
	for _, laps := range p.laps {
		if len(laps) == 0 {
			continue
		}
		first := laps[0]
		if first.LapNumber == 1 && first.DateStart == nil {
			start := *p.raceStart
			first.DateStart = &start
			p.markUpdated(first)
		}
	}
}

// targetLap picks the lap an end-of-lap value belongs to: when the result
// arrives within 10 s of the next lap's start it describes the previous lap.
func (p *lapsProcessor) targetLap(driver int, endOfLap bool, tp time.Time) *Lap {
	lap := p.currentLap(driver)
	if endOfLap && lap.DateStart != nil && tp.Sub(*lap.DateStart) < lateUpdateWindow {
		laps := p.laps[driver]
		if len(laps) < 2 {
			return nil
		}
		return laps[len(laps)-2]
	}
	return lap
}

func (p *lapsProcessor) setLapDuration(driver int, seconds float64, endOfLap bool, tp time.Time) {
	lap := p.targetLap(driver, endOfLap, tp)
	if lap == nil {
		return
	}
	if lap.LapDuration != nil && *lap.LapDuration == seconds {
		return
	}
	lap.LapDuration = &seconds
	p.markUpdated(lap)
	p.inferMissingSector(lap)
}

func (p *lapsProcessor) setSectorDuration(driver, sector int, seconds float64, endOfLap bool, tp time.Time) {
	lap := p.targetLap(driver, endOfLap, tp)
	if lap == nil {
		return
	}
	dst := lap.sectorDuration(sector)
	if *dst != nil && **dst == seconds {
		return
	}
	*dst = &seconds
	p.markUpdated(lap)
	p.inferMissingSector(lap)
	p.inferLapDuration(lap)
}

func (p *lapsProcessor) setSegmentStatus(driver, sector, segment, status int, endOfLap bool, tp time.Time) {
	lap := p.targetLap(driver, endOfLap, tp)
	if lap == nil {
		return
	}
	dst := lap.sectorSegments(sector)
	for segment >= len(*dst) {
		*dst = append(*dst, nil)
	}
	cur := (*dst)[segment]
	if cur != nil && *cur == status {
		return
	}
	(*dst)[segment] = &status
	p.markUpdated(lap)
}

func (p *lapsProcessor) setSpeed(driver int, label string, value int, tp time.Time) {
	lap := p.currentLap(driver)
	var dst **int
	switch label {
	case "I1":
		dst = &lap.I1Speed
	case "I2":
		dst = &lap.I2Speed
	case "ST":
		dst = &lap.STSpeed
	default:
		return
	}
	if *dst != nil && **dst == value {
		return
	}
	*dst = &value
	p.markUpdated(lap)
}

// inferLapDuration fills a missing lap duration from three known sectors.
func (p *lapsProcessor) inferLapDuration(lap *Lap) {
	if lap.LapDuration != nil {
		return
	}
	if lap.DurationSector1 == nil || lap.DurationSector2 == nil || lap.DurationSector3 == nil {
		return
	}
	sum := round3(*lap.DurationSector1 + *lap.DurationSector2 + *lap.DurationSector3)
	lap.LapDuration = &sum
	p.markUpdated(lap)
}

// inferMissingSector fills exactly one missing sector as the remainder of
// the lap duration.
func (p *lapsProcessor) inferMissingSector(lap *Lap) {
	if lap.LapDuration == nil {
		return
	}
	var missing **float64
	known := 0.0
	nMissing := 0
	for s := 1; s <= 3; s++ {
		dst := lap.sectorDuration(s)
		if *dst == nil {
			nMissing++
			missing = dst
		} else {
			known += **dst
		}
	}
	if nMissing != 1 {
		return
	}
	remainder := round3(*lap.LapDuration - known)
	if remainder <= 0 {
		return
	}
	*missing = &remainder
	p.markUpdated(lap)
}

func (l *Lap) sectorDuration(sector int) **float64 {
	switch sector {
	case 1:
		return &l.DurationSector1
	case 2:
		return &l.DurationSector2
	default:
		return &l.DurationSector3
	}
}

func (l *Lap) sectorSegments(sector int) *[]*int {
	switch sector {
	case 1:
		return &l.SegmentsSector1
	case 2:
		return &l.SegmentsSector2
	default:
		return &l.SegmentsSector3
	}
}

func (p *lapsProcessor) markUpdated(lap *Lap) {
	p.updated[lap] = struct{}{}
}

func (p *lapsProcessor) flush() []domain.Document {
	if len(p.updated) == 0 {
		return nil
	}
	docs := make([]domain.Document, 0, len(p.updated))
	for lap := range p.updated {
		// Laps started after the chequered flag are in-lap noise.
		if p.isRace && p.chequered != nil && lap.DateStart != nil && lap.DateStart.After(*p.chequered) {
			continue
		}
		docs = append(docs, lap.snapshot())
	}
	p.updated = make(map[*Lap]struct{})
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i].(Lap), docs[j].(Lap)
		if a.DriverNumber != b.DriverNumber {
			return a.DriverNumber < b.DriverNumber
		}
		return a.LapNumber < b.LapNumber
	})
	return docs
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
