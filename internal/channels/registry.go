// Package channels keeps the registry of known chat channels in a single
// store hash keyed by channel id.
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/cipherchat/internal/store"
)

// HashKey is the store hash holding every channel.
const HashKey = "channels"

// MaxNameLength bounds a channel display name, in characters.
const MaxNameLength = 100

var (
	ErrNotFound    = errors.New("channels: not found")
	ErrInvalidName = errors.New("channels: invalid name")
)

// Channel is a registry entry.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the hash storage the registry needs.
type Store interface {
	HSet(ctx context.Context, key, field string, value []byte) error
	HSetNX(ctx context.Context, key, field string, value []byte) (bool, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HValues(ctx context.Context, key string) ([]string, error)
}

// Registry maps channel ids to channels.
type Registry struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time
	newID func() string
}

// NewRegistry returns a Registry backed by s.
func NewRegistry(s Store, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		store: s,
		log:   logger.WithField("component", "channels"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}

// Create registers a new channel with a generated id.
func (r *Registry) Create(ctx context.Context, name string) (Channel, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Channel{}, err
	}

	ch := Channel{
		ID:        r.newID(),
		Name:      name,
		CreatedAt: r.now().UTC(),
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return Channel{}, fmt.Errorf("marshal channel: %w", err)
	}
	if err := r.store.HSet(ctx, HashKey, ch.ID, data); err != nil {
		return Channel{}, err
	}

	r.log.WithFields(logrus.Fields{"channel": ch.ID, "name": ch.Name}).Info("channel created")
	return ch, nil
}

// Ensure registers a channel under a fixed id unless one already exists, and
// returns the stored channel. It is used to seed well-known channels.
func (r *Registry) Ensure(ctx context.Context, id, name string) (Channel, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Channel{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Channel{}, fmt.Errorf("%w: empty id", ErrInvalidName)
	}

	ch := Channel{ID: id, Name: name, CreatedAt: r.now().UTC()}
	data, err := json.Marshal(ch)
	if err != nil {
		return Channel{}, fmt.Errorf("marshal channel: %w", err)
	}
	created, err := r.store.HSetNX(ctx, HashKey, id, data)
	if err != nil {
		return Channel{}, err
	}
	if created {
		r.log.WithField("channel", id).Info("channel seeded")
		return ch, nil
	}
	return r.Get(ctx, id)
}

// Exists reports whether id is a registered channel.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return r.store.HExists(ctx, HashKey, id)
}

// Get returns the channel registered under id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Channel, error) {
	raw, err := r.store.HGet(ctx, HashKey, id)
	if errors.Is(err, store.ErrNotFound) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	var ch Channel
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return Channel{}, fmt.Errorf("decode channel %s: %w", id, err)
	}
	return ch, nil
}

// List returns every readable channel, oldest first. Entries that fail to
// decode are skipped.
func (r *Registry) List(ctx context.Context) ([]Channel, error) {
	vals, err := r.store.HValues(ctx, HashKey)
	if err != nil {
		return nil, err
	}

	out := make([]Channel, 0, len(vals))
	for _, raw := range vals {
		var ch Channel
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			r.log.WithError(err).Warn("skipping unreadable channel entry")
			continue
		}
		out = append(out, ch)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
