// Package notify fans committed results out to other services.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

const TypeResultCreated = "result.created"

// ResultEvent is published once per newly committed result.
type ResultEvent struct {
	Type           string                 `json:"type"`
	ResultID       string                 `json:"result_id"`
	SessionID      string                 `json:"session_id"`
	UserID         string                 `json:"user_id"`
	TestID         string                 `json:"test_id"`
	InstanceID     string                 `json:"instance_id,omitempty"`
	EventID        string                 `json:"event_id,omitempty"`
	LibraryID      string                 `json:"library_id,omitempty"`
	Score          int                    `json:"score"`
	TotalQuestions int                    `json:"total_questions"`
	Reason         exam.TerminationReason `json:"termination_reason"`
	XPGained       int                    `json:"xp_gained"`
	LeveledUp      bool                   `json:"leveled_up"`
	NewBadges      []string               `json:"new_badges,omitempty"`
	CompletedAt    time.Time              `json:"completed_at"`
}

type Publisher interface {
	PublishResult(ctx context.Context, ev ResultEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishResult(context.Context, ResultEvent) error { return nil }

// redisClient is the slice of *goredis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisPublisher publishes JSON events on a pub/sub channel.
type RedisPublisher struct {
	rdb     redisClient
	channel string
}

func NewRedisPublisher(rdb redisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "examprep.results"
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) PublishResult(ctx context.Context, ev ResultEvent) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	if ev.Type == "" {
		ev.Type = TypeResultCreated
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []ResultEvent
	Err    error
}

func (r *Recorder) PublishResult(_ context.Context, ev ResultEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if ev.Type == "" {
		ev.Type = TypeResultCreated
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []ResultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResultEvent(nil), r.events...)
}
