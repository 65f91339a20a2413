package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordduel/internal/models"
)

// Config holds JetStream settings for the duel event stream.
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
}

// DefaultConfig returns the default duel event stream configuration.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "DUEL_EVENTS",
		SubjectPrefix:   "duel.events",
		MaxReconnects:   -1, // infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Publisher pushes completed-match envelopes onto JetStream so external
// consumers (leaderboards, analytics) can follow duels without touching the
// coordinator. The game ID doubles as the message ID, so the broker
// deduplicates the publish races the coordinator already absorbs in memory.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

type matchCompletedEnvelope struct {
	EventID   uuid.UUID          `json:"eventId"`
	EventType string             `json:"eventType"`
	GameID    uuid.UUID          `json:"gameId"`
	Timestamp time.Time          `json:"timestamp"`
	Payload   models.MatchResult `json:"payload"`
}

// NewPublisher connects to NATS and ensures the duel event stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Duel session event stream",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err := p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
	}

	return nil
}

// MatchCompleted implements duel.EventSink.
func (p *Publisher) MatchCompleted(ctx context.Context, result *models.MatchResult) error {
	envelope := matchCompletedEnvelope{
		EventID:   uuid.New(),
		EventType: "MatchCompleted",
		GameID:    result.GameID,
		Timestamp: time.Now(),
		Payload:   *result,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal match completed envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.match.completed", p.config.SubjectPrefix)
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(result.GameID.String()))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("game_id", result.GameID.String()).
		Msg("published match completed event")
	return nil
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	p.nc.Close()
}
