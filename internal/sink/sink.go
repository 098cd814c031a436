// Package sink fans rendered feed events out to external consumers as JSON.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contestfeed/internal/feed"

	"github.com/google/uuid"
)

// Envelope is the JSON document every sink publishes.
type Envelope struct {
	ID    string     `json:"id"`
	Sent  time.Time  `json:"sent"`
	Text  string     `json:"text"`
	Event feed.Event `json:"event"`
}

// NewEnvelope stamps e with a fresh id.
func NewEnvelope(e feed.Event, text string) Envelope {
	return Envelope{ID: uuid.New().String(), Sent: time.Now().UTC(), Text: text, Event: e}
}

// Key is the partition key: the user, or the contest for user-less events.
func (e Envelope) Key() string {
	if e.Event.User != "" {
		return e.Event.User
	}
	return e.Event.Contest
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Multi publishes to every sink and joins the failures.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
