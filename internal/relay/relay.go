// Package relay stores chat messages encrypted in a capped per-channel
// history, fans new messages out over pub/sub, and serves decrypted history.
//
// The relay keeps no state between calls; the store is the single source of
// truth. Each channel's history lives in the list "chat:<channel>", newest
// entry at the head, and new records are published on "chat:live:<channel>".
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/cipherchat/internal/envelope"
	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/store"
)

const (
	// DefaultHistoryCap is the maximum number of records kept per channel.
	DefaultHistoryCap = 100
	// DefaultLimit is the page size used when a caller gives no limit.
	DefaultLimit = 50

	historyPrefix = "chat:"
	topicPrefix   = "chat:live:"
)

// Placeholder contents substituted for records that cannot be opened.
const (
	SentinelDecryption  = "[message could not be decrypted]"
	SentinelEncoding    = "[message is not valid text]"
	SentinelInvalidData = "[message data is corrupted]"
	SentinelUnavailable = "[message unavailable]"
)

var (
	// ErrEncrypt is returned by Append when the message could not be sealed.
	// Nothing was stored or published.
	ErrEncrypt = errors.New("relay: encrypt message")
	// ErrStore is returned when the history could not be written or read.
	ErrStore = errors.New("relay: store")
	// ErrInvalidArgument is returned for an empty channel.
	ErrInvalidArgument = errors.New("relay: invalid argument")
)

// Cipher seals and opens message bodies. *envelope.Codec implements it.
type Cipher interface {
	Encrypt(text string) (string, error)
	Decrypt(env string) (string, error)
}

// Store is the physical storage the relay writes through.
type Store interface {
	PushCapped(ctx context.Context, key string, value []byte, keep int64) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Publish(ctx context.Context, topic string, value []byte) error
}

// Subscriber delivers published payloads for topics matching a pattern.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, ready chan<- struct{}, handle func(store.Message)) error
}

// Config configures a Relay. Store and Cipher are required.
type Config struct {
	Store        Store
	Cipher       Cipher
	Logger       *logrus.Logger
	HistoryCap   int
	DefaultLimit int
	// OldestFirst makes Recent return records in insertion order instead of
	// newest first.
	OldestFirst bool
	Now         func() time.Time
	NewID       func() string
}

// Relay implements CreateMessage and ListMessages over a Store.
type Relay struct {
	store        Store
	cipher       Cipher
	log          *logrus.Entry
	historyCap   int
	defaultLimit int
	oldestFirst  bool
	now          func() time.Time
	newID        func() string
}

// New validates cfg and returns a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if cfg.Cipher == nil {
		return nil, errors.New("relay: cipher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.DefaultLimit > cfg.HistoryCap {
		cfg.DefaultLimit = cfg.HistoryCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Relay{
		store:        cfg.Store,
		cipher:       cfg.Cipher,
		log:          cfg.Logger.WithField("component", "relay"),
		historyCap:   cfg.HistoryCap,
		defaultLimit: cfg.DefaultLimit,
		oldestFirst:  cfg.OldestFirst,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}, nil
}

// HistoryKey returns the list key holding channel's history.
func HistoryKey(channel string) string { return historyPrefix + channel }

// TopicKey returns the pub/sub topic new records of channel are published on.
func TopicKey(channel string) string { return topicPrefix + channel }

// TopicPattern matches every channel topic.
const TopicPattern = topicPrefix + "*"

// ChannelFromTopic is the inverse of TopicKey.
func ChannelFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, topicPrefix), true
}

// Append encrypts text, stores the record at the head of channel's history,
// trims the history to the cap and publishes the record. It returns the
// record with its plaintext content.
//
// A failed publish is logged and does not fail the call: the history already
// holds the record, so subscribers that miss the live copy see it on their
// next read.
func (r *Relay) Append(ctx context.Context, channel, sender, text string) (Record, error) {
	if channel == "" {
		return Record{}, fmt.Errorf("%w: empty channel", ErrInvalidArgument)
	}

	env, err := r.cipher.Encrypt(text)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrEncrypt, err)
	}

	rec := Record{
		ID:        r.newID(),
		Channel:   channel,
		Sender:    sender,
		Timestamp: r.now().Unix(),
	}.withEnvelope(env)

	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("%w: marshal record: %w", ErrStore, err)
	}

	start := time.Now()
	err = r.store.PushCapped(ctx, HistoryKey(channel), payload, int64(r.historyCap))
	metrics.ObserveStore("push", time.Since(start))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	metrics.IncAppended()

	if err := r.store.Publish(ctx, TopicKey(channel), payload); err != nil {
		metrics.IncPublishFailure()
		r.log.WithFields(logrus.Fields{
			"record_id": rec.ID,
			"channel":   channel,
		}).WithError(err).Error("publish failed; message stored without live delivery")
	}

	return rec.withContent(text), nil
}

// ClampLimit maps a caller-supplied limit onto [1, cap]; zero or negative
// selects the default.
func (r *Relay) ClampLimit(limit int) int {
	if limit <= 0 {
		return r.defaultLimit
	}
	if limit > r.historyCap {
		return r.historyCap
	}
	return limit
}

// Recent returns up to limit of channel's most recent records with their
// plaintext content. A record that cannot be decrypted is returned with a
// placeholder content; an entry that cannot be parsed is dropped. Only a
// failed store read fails the call.
func (r *Relay) Recent(ctx context.Context, channel string, limit int) ([]Record, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: empty channel", ErrInvalidArgument)
	}
	limit = r.ClampLimit(limit)

	start := time.Now()
	raw, err := r.store.Range(ctx, HistoryKey(channel), 0, int64(limit-1))
	metrics.ObserveStore("range", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	out := make([]Record, 0, len(raw))
	for i, entry := range raw {
		rec, err := decodeStored(entry)
		if err != nil {
			metrics.IncDropped()
			r.log.WithFields(logrus.Fields{
				"channel":  channel,
				"position": i,
			}).WithError(err).Warn("dropping unreadable history entry")
			continue
		}
		out = append(out, r.Open(rec))
	}

	if r.oldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Open returns rec with its envelope replaced by the plaintext, or by the
// placeholder for the fault kind if decryption fails. Records that already
// carry plaintext are returned unchanged.
func (r *Relay) Open(rec Record) Record {
	if rec.EncryptedContent == nil {
		return rec
	}

	text, err := r.cipher.Decrypt(*rec.EncryptedContent)
	if err != nil {
		kind := envelope.KindOf(err)
		metrics.IncFault(kind.String())
		r.log.WithFields(logrus.Fields{
			"record_id": rec.ID,
			"channel":   rec.Channel,
			"fault":     kind.String(),
		}).Warn("substituting placeholder for unreadable message")
		return rec.withContent(Sentinel(kind))
	}
	return rec.withContent(text)
}

// Sentinel returns the placeholder content for a fault kind.
func Sentinel(kind envelope.Kind) string {
	switch kind {
	case envelope.KindDecryption:
		return SentinelDecryption
	case envelope.KindEncoding:
		return SentinelEncoding
	case envelope.KindInvalidData:
		return SentinelInvalidData
	default:
		return SentinelUnavailable
	}
}

// Listen subscribes to every channel topic and calls deliver with each
// published record, opened as by Open. It blocks until ctx is cancelled or
// the subscription fails. ready is closed once the subscription is live.
func (r *Relay) Listen(ctx context.Context, sub Subscriber, ready chan<- struct{}, deliver func(Record)) error {
	return sub.Subscribe(ctx, TopicPattern, ready, func(m store.Message) {
		rec, err := decodeStored(m.Payload)
		if err != nil {
			metrics.IncDropped()
			r.log.WithField("topic", m.Topic).WithError(err).Warn("dropping unreadable live message")
			return
		}
		if ch, ok := ChannelFromTopic(m.Topic); ok && ch != rec.Channel {
			r.log.WithFields(logrus.Fields{
				"topic":   m.Topic,
				"channel": rec.Channel,
			}).Warn("dropping live message published on another channel's topic")
			return
		}
		deliver(r.Open(rec))
	})
}
