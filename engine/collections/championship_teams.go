package collections

import (
	"sort"

	"github.com/pitwall/pitwall/engine/domain"
)

// ChampionshipTeam is the live constructors' title prediction for one team.
type ChampionshipTeam struct {
	MeetingKey      int      `json:"meeting_key" bson:"meeting_key"`
	SessionKey      int      `json:"session_key" bson:"session_key"`
	TeamName        string   `json:"team_name" bson:"team_name"`
	PositionStart   *int     `json:"position_start" bson:"position_start"`
	PositionCurrent *int     `json:"position_current" bson:"position_current"`
	PointsStart     *float64 `json:"points_start" bson:"points_start"`
	PointsCurrent   *float64 `json:"points_current" bson:"points_current"`
}

func (d ChampionshipTeam) Collection() string { return "championship_teams" }

func (d ChampionshipTeam) UniqueKey() []any {
	return []any{d.SessionKey, d.TeamName}
}

type championshipTeamsProcessor struct {
	meetingKey int
	sessionKey int

	rows map[string]*ChampionshipTeam
}

func newChampionshipTeams(meetingKey, sessionKey int) *championshipTeamsProcessor {
	return &championshipTeamsProcessor{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		rows:       make(map[string]*ChampionshipTeam),
	}
}

func (p *championshipTeamsProcessor) Name() string { return "championship_teams" }
func (p *championshipTeamsProcessor) SourceTopics() []string {
	return []string{"ChampionshipPrediction"}
}
func (p *championshipTeamsProcessor) Stateful() bool { return true }

func (p *championshipTeamsProcessor) Process(msg domain.Message) []domain.Document {
	teams, ok := domain.Field(msg.Content, "Teams")
	if !ok {
		return nil
	}
	entries, ok := domain.AsMap(teams)
	if !ok {
		return nil
	}
	var docs []domain.Document
	for _, v := range entries {
		data, ok := domain.AsMap(v)
		if !ok {
			continue
		}
		name, ok := domain.Str(data["TeamName"])
		if !ok {
			continue
		}
		row := p.rows[name]
		if row == nil {
			row = &ChampionshipTeam{
				MeetingKey: p.meetingKey,
				SessionKey: p.sessionKey,
				TeamName:   name,
			}
			p.rows[name] = row
		}
		applyPrediction(data, &row.PositionStart, &row.PositionCurrent,
			&row.PointsStart, &row.PointsCurrent)
		docs = append(docs, *row)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].(ChampionshipTeam).TeamName < docs[j].(ChampionshipTeam).TeamName
	})
	return docs
}
