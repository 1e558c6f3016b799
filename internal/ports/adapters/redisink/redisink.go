// Package redisink publishes job snapshots to a Redis channel so a UI
// or poller can follow pipeline progress. Delivery is best-effort by
// contract; the job never waits on it.
package redisink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/job"
)

type Sink struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func New(addr, channel string, log zerolog.Logger) *Sink {
	if addr == "" {
		return nil
	}
	if channel == "" {
		channel = "clipforge:jobs"
	}
	return &Sink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		log:     log,
	}
}

func (s *Sink) JobUpdate(snap job.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn().Err(err).Str("jobId", snap.ID).Msg("snapshot marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, b).Err(); err != nil {
		s.log.Warn().Err(err).Str("jobId", snap.ID).Msg("status publish failed")
	}
}
