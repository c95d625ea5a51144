// Command questpub publishes a quest update to the broker. It is meant for
// checking a running notification service end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/redis"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/retry"
)

const publishTimeout = 30 * time.Second

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		password = flag.String("password", os.Getenv("REDIS_PASSWORD"), "Redis password (or set REDIS_PASSWORD env)")
		kind     = flag.String("kind", "add", "Update kind: add, update, remove or raw")
		level    = flag.String("level", string(domain.LevelQuest), "Hierarchy level: QUEST or OBJECTIVE")
		id       = flag.String("id", "", "Item id (remove only)")
		data     = flag.String("data", "", "JSON object: newData for add, updateDetail for update, the whole payload for raw")
		topic    = flag.String("topic", "", "Topic (raw only)")
		attempts = flag.Int("attempts", 3, "Publish attempts before giving up")
		wait     = flag.Duration("retry-wait", time.Second, "Wait between publish attempts")
		loading  = flag.Duration("loading-wait", 5*time.Second, "Wait while Redis is still loading its dataset")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	msg, err := buildMessage(*kind, *level, *id, *data, *topic)
	if err != nil {
		log.Fatalf("Invalid message: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	conns, err := redis.Connect(ctx, domain.Credentials{URL: *redisURL, Password: *password},
		redis.WithMaxAttempts(1),
		redis.WithReconnectWait(time.Second),
	)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer conns.Disconnect()
	slog.Debug("Connected to Redis", "url", sanitizeURL(*redisURL))

	policy := retry.Policy{
		MaxAttempts:      max(*attempts, 1),
		InitialBackoff:   *wait,
		RateLimitBackoff: *loading,
		Constant:         true,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Publish failed, retrying", "attempt", attempt, "wait", backoff, "error", err)
		},
	}
	if err := publish(ctx, conns, msg, policy); err != nil {
		log.Fatalf("Publish failed: %v", err)
	}
	fmt.Printf("published to %s: %s\n", msg.Topic, msg.Payload)
}

// buildMessage assembles the payload for kind. Typed kinds are checked with
// the same decoders the service uses, so anything accepted here is routed.
func buildMessage(kind, level, id, data, topic string) (domain.ChannelMessage, error) {
	lvl := domain.Level(strings.ToUpper(level))

	var (
		payload any
		target  string
		decode  func([]byte) error
	)
	switch kind {
	case "add":
		target = domain.TopicAdd
		payload = map[string]any{"type": lvl, "newData": json.RawMessage(data)}
		decode = func(b []byte) error { _, err := domain.DecodeAdd(b); return err }
	case "update":
		target = domain.TopicUpdate
		payload = map[string]any{"type": lvl, "updateDetail": json.RawMessage(data)}
		decode = func(b []byte) error { _, err := domain.DecodeChange(b); return err }
	case "remove":
		target = domain.TopicRemove
		payload = map[string]any{"type": lvl, "id": id}
		decode = func(b []byte) error { _, err := domain.DecodeRemove(b); return err }
	case "raw":
		if topic == "" {
			return domain.ChannelMessage{}, fmt.Errorf("raw messages need --topic")
		}
		return domain.ChannelMessage{Topic: topic, Payload: data}, nil
	default:
		return domain.ChannelMessage{}, fmt.Errorf("unknown kind %q", kind)
	}

	if kind != "remove" && !json.Valid([]byte(data)) {
		return domain.ChannelMessage{}, fmt.Errorf("--data is not valid JSON: %w", domain.ErrInvalidPayload)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return domain.ChannelMessage{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := decode(b); err != nil {
		return domain.ChannelMessage{}, err
	}
	return domain.ChannelMessage{Topic: target, Payload: string(b)}, nil
}

// publish sends msg, retrying transport failures under policy.
func publish(ctx context.Context, p domain.Publisher, msg domain.ChannelMessage, policy retry.Policy) error {
	return retry.DoVoid(ctx, policy, classifyPublish, func() error {
		return p.Publish(ctx, msg.Topic, json.RawMessage(msg.Payload))
	})
}

// classifyPublish treats a LOADING reply as worth a longer wait; everything
// else follows the connection rules.
func classifyPublish(err error) retry.Action {
	var reply goredis.Error
	if errors.As(err, &reply) && strings.HasPrefix(reply.Error(), "LOADING") {
		return retry.After
	}
	return redis.Classify(err)
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":" + credParts[1] + ":***@" + parts[1]
			}
		}
	}
	return url
}
