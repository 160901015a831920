// Package collections implements the per-collection stream processors that
// fold live-timing messages into typed documents, and the registry that maps
// upstream topics to the processors consuming them.
//
// A processor is created once per (meeting_key, session_key) and lives for
// the duration of that session's ingest. Stateful processors keep an
// in-memory row per logical document, mark rows whose observable content
// changed, and emit snapshots of the changed rows at the end of each message.
package collections

import (
	"sort"

	"github.com/pitwall/pitwall/engine/domain"
)

// Processor consumes messages from one or more topics and emits documents of
// a single collection.
type Processor interface {
	// Name is the collection name, used as the storage and publish target.
	Name() string

	// SourceTopics lists the upstream topics this processor consumes.
	SourceTopics() []string

	// Stateful reports whether the processor keeps cross-message state.
	// Stateful processors must be invoked serially in arrival order;
	// stateless ones may be fanned out over message batches.
	Stateful() bool

	// Process folds one message into the processor's state and returns the
	// documents whose observable content changed.
	Process(msg domain.Message) []domain.Document
}

// Registry holds the processor set for one session and the topic routing
// table. Processors are registered explicitly at construction; there is no
// scanning magic.
type Registry struct {
	meetingKey int
	sessionKey int
	processors []Processor
	byTopic    map[string][]Processor
}

// NewRegistry builds the full processor set for a session.
func NewRegistry(meetingKey, sessionKey int) *Registry {
	r := &Registry{
		meetingKey: meetingKey,
		sessionKey: sessionKey,
		byTopic:    make(map[string][]Processor),
	}
	r.register(
		newCarData(meetingKey, sessionKey),
		newChampionshipDrivers(meetingKey, sessionKey),
		newChampionshipTeams(meetingKey, sessionKey),
		newDrivers(meetingKey, sessionKey),
		newIntervals(meetingKey, sessionKey),
		newLaps(meetingKey, sessionKey),
		newLocation(meetingKey, sessionKey),
		newMeetings(meetingKey, sessionKey),
		newOvertakes(meetingKey, sessionKey),
		newPit(meetingKey, sessionKey),
		newPosition(meetingKey, sessionKey),
		newRaceControl(meetingKey, sessionKey),
		newSessions(meetingKey, sessionKey),
		newStints(meetingKey, sessionKey),
		newTeamRadio(meetingKey, sessionKey),
		newWeather(meetingKey, sessionKey),
	)
	return r
}

func (r *Registry) register(procs ...Processor) {
	for _, p := range procs {
		r.processors = append(r.processors, p)
		for _, topic := range p.SourceTopics() {
			r.byTopic[topic] = append(r.byTopic[topic], p)
		}
	}
	sort.Slice(r.processors, func(i, j int) bool {
		return r.processors[i].Name() < r.processors[j].Name()
	})
}

// All returns every registered processor, ordered by collection name.
func (r *Registry) All() []Processor {
	return r.processors
}

// ForTopic returns the processors subscribed to a topic, in registration
// (collection-name) order.
func (r *Registry) ForTopic(topic string) []Processor {
	return r.byTopic[topic]
}

// CollectionNames returns the names of all registered collections.
func (r *Registry) CollectionNames() []string {
	names := make([]string, len(r.processors))
	for i, p := range r.processors {
		names[i] = p.Name()
	}
	return names
}

// Topics returns the union of source topics for the named collections (all
// collections when names is empty). SessionInfo is always included: several
// processors depend on it to learn the session type and archive path.
func Topics(names ...string) []string {
	reg := NewRegistry(0, 0)
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	set := map[string]bool{"SessionInfo": true}
	for _, p := range reg.processors {
		if len(names) > 0 && !want[p.Name()] {
			continue
		}
		for _, t := range p.SourceTopics() {
			set[t] = true
		}
	}
	topics := make([]string, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// SourceTopicsFor returns the source topics of a single collection, or false
// if the collection is unknown.
func SourceTopicsFor(name string) ([]string, bool) {
	for _, p := range NewRegistry(0, 0).processors {
		if p.Name() == name {
			return p.SourceTopics(), true
		}
	}
	return nil, false
}
