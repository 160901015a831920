// Package publish pushes freshly ingested documents to a NATS broker so
// live consumers can follow a session without polling the store.
//
// Publishing is fire and forget: a broker outage never blocks or fails the
// ingest pipeline.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/fn"
)

// SubjectPrefix is the versioned namespace documents are published under,
// one subject per collection.
const SubjectPrefix = "v1"

// Config holds the broker connection settings.
type Config struct {
	URL      string
	Port     string
	User     string
	Password string
	NoTLS    bool
}

// ConfigFromEnv reads the PUBLISHER_* environment variables. The publisher
// is enabled only when PUBLISHER_URL is set; TLS is on unless
// PUBLISHER_NO_TLS says otherwise.
func ConfigFromEnv() Config {
	return Config{
		URL:      os.Getenv("PUBLISHER_URL"),
		Port:     os.Getenv("PUBLISHER_PORT"),
		User:     os.Getenv("PUBLISHER_USER"),
		Password: os.Getenv("PUBLISHER_PASSWORD"),
		NoTLS:    os.Getenv("PUBLISHER_NO_TLS") == "true",
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Publisher fans documents out to per-collection subjects.
type Publisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

// Connect dials the broker.
func Connect(cfg Config, log *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("publish: PUBLISHER_URL not set")
	}
	if log == nil {
		log = slog.Default()
	}

	serverURL := cfg.URL
	if cfg.Port != "" {
		serverURL = fmt.Sprintf("%s:%s", cfg.URL, cfg.Port)
	}
	if u, err := url.Parse(serverURL); err == nil && u.Scheme == "" {
		scheme := "tls"
		if cfg.NoTLS {
			scheme = "nats"
		}
		serverURL = fmt.Sprintf("%s://%s", scheme, serverURL)
	}

	opts := []nats.Option{nats.Name("pitwall-publisher")}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	// The broker often comes up after the ingestor in a fresh deployment.
	result := fn.Retry(context.Background(), fn.DefaultRetry, func(context.Context) fn.Result[*nats.Conn] {
		return fn.FromPair(nats.Connect(serverURL, opts...))
	})
	nc, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("publish: connect: %w", err)
	}
	return &Publisher{nc: nc, log: log}, nil
}

// Subject returns the subject for a collection.
func Subject(collection string) string {
	return SubjectPrefix + "." + collection
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish sends each document to its collection's subject. Failures are
// logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, collection string, docs []domain.Document) {
	subject := Subject(collection)
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			p.log.Warn("publish: marshal failed", "collection", collection, "error", err)
			continue
		}
		msg := &nats.Msg{Subject: subject, Data: data}
		otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
		if err := p.nc.PublishMsg(msg); err != nil {
			p.log.Warn("publish: publish failed", "subject", subject, "error", err)
		}
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("publish: drain failed", "error", err)
	}
}
