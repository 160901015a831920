// Package process implements the driver that routes decoded messages to the
// collection processors and converges their emissions into per-collection
// batches for the sinks.
package process

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/fn"
)

// DefaultWorkers bounds the fan-out over message batches for stateless
// processors.
const DefaultWorkers = 8

// Driver dispatches messages for one session and buffers the resulting
// documents. A later emission for the same unique key replaces the earlier
// one, so repeated partial updates converge to their final form before a
// flush hands them to the sink.
type Driver struct {
	registry *collections.Registry
	log      *slog.Logger
	workers  int
	only     map[string]struct{}

	// collection -> key string -> latest document
	buffers map[string]map[string]domain.Document
}

// Option configures a Driver.
type Option func(*Driver)

// WithCollections restricts processing to the named collections.
func WithCollections(names ...string) Option {
	return func(d *Driver) {
		if len(names) == 0 {
			return
		}
		d.only = make(map[string]struct{}, len(names))
		for _, n := range names {
			d.only[n] = struct{}{}
		}
	}
}

// WithWorkers sets the fan-out width for stateless processors.
func WithWorkers(n int) Option {
	return func(d *Driver) { d.workers = n }
}

// WithLogger sets the driver's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// New builds a Driver with a fresh processor set for the session.
func New(meetingKey, sessionKey int, opts ...Option) *Driver {
	d := &Driver{
		registry: collections.NewRegistry(meetingKey, sessionKey),
		log:      slog.Default(),
		workers:  DefaultWorkers,
		buffers:  make(map[string]map[string]domain.Document),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process routes one message through every subscribed processor. A panicking
// processor is logged and skipped; one bad message must not poison other
// collections.
func (d *Driver) Process(msg domain.Message) {
	for _, p := range d.registry.ForTopic(msg.Topic) {
		if !d.wants(p) {
			continue
		}
		docs, err := d.invoke(p, msg)
		if err != nil {
			d.log.Error("process: processor failed",
				"collection", p.Name(), "topic", msg.Topic, "error", err)
			continue
		}
		d.buffer(p.Name(), docs)
	}
}

// ProcessBatch routes a batch of messages. Stateless processors are fanned
// out over the batch; stateful ones see the messages serially in order.
func (d *Driver) ProcessBatch(msgs []domain.Message) {
	if len(msgs) == 0 {
		return
	}
	for _, p := range d.registry.All() {
		if !d.wants(p) {
			continue
		}
		subscribed := make(map[string]bool, len(p.SourceTopics()))
		for _, t := range p.SourceTopics() {
			subscribed[t] = true
		}

		if p.Stateful() {
			for _, msg := range msgs {
				if !subscribed[msg.Topic] {
					continue
				}
				docs, err := d.invoke(p, msg)
				if err != nil {
					d.log.Error("process: processor failed",
						"collection", p.Name(), "topic", msg.Topic, "error", err)
					continue
				}
				d.buffer(p.Name(), docs)
			}
			continue
		}

		results := fn.ParMap(msgs, d.workers, func(msg domain.Message) []domain.Document {
			if !subscribed[msg.Topic] {
				return nil
			}
			docs, err := d.invoke(p, msg)
			if err != nil {
				d.log.Error("process: processor failed",
					"collection", p.Name(), "topic", msg.Topic, "error", err)
				return nil
			}
			return docs
		})
		for _, docs := range results {
			d.buffer(p.Name(), docs)
		}
	}
}

func (d *Driver) wants(p collections.Processor) bool {
	if d.only == nil {
		return true
	}
	_, ok := d.only[p.Name()]
	return ok
}

func (d *Driver) invoke(p collections.Processor, msg domain.Message) (docs []domain.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.Process(msg), nil
}

func (d *Driver) buffer(collection string, docs []domain.Document) {
	if len(docs) == 0 {
		return
	}
	buf := d.buffers[collection]
	if buf == nil {
		buf = make(map[string]domain.Document)
		d.buffers[collection] = buf
	}
	for _, doc := range docs {
		buf[domain.KeyString(doc.UniqueKey())] = doc
	}
}

// Flush drains the update buffers. Each collection's documents come out
// sorted by unique key so downstream writes are deterministic.
func (d *Driver) Flush() map[string][]domain.Document {
	if len(d.buffers) == 0 {
		return nil
	}
	out := make(map[string][]domain.Document, len(d.buffers))
	for collection, buf := range d.buffers {
		docs := make([]domain.Document, 0, len(buf))
		for _, doc := range buf {
			docs = append(docs, doc)
		}
		sort.SliceStable(docs, func(i, j int) bool {
			return domain.CompareKeys(docs[i].UniqueKey(), docs[j].UniqueKey()) < 0
		})
		out[collection] = docs
	}
	d.buffers = make(map[string]map[string]domain.Document)
	return out
}

// Pending reports how many distinct documents are buffered across all
// collections.
func (d *Driver) Pending() int {
	n := 0
	for _, buf := range d.buffers {
		n += len(buf)
	}
	return n
}
