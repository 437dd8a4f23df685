package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coreman2200/ledwall/internal/topology"
)

// TopologyKey is where an instance's topology document lives.
func TopologyKey(instance string) string { return fmt.Sprintf("ledwall:%s:topology", instance) }

// TopologyEventsChannel carries every saved document for an instance.
func TopologyEventsChannel(instance string) string {
	return fmt.Sprintf("ledwall:%s:topology_events", instance)
}

// event is the pub/sub payload. Origin lets a store skip its own saves.
type event struct {
	Origin   string        `json:"origin"`
	Topology *topology.Raw `json:"topology"`
}

// RedisStore shares one topology document between every wall controller
// using the same instance name. Saves are announced on the events channel.
type RedisStore struct {
	rdb      *redis.Client
	instance string
	origin   string
}

func NewRedisStore(opts *redis.Options, instance string) (*RedisStore, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisStore{rdb: redis.NewClient(opts), instance: instance, origin: uuid.NewString()}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Load(ctx context.Context) (*topology.Raw, error) {
	b, err := s.rdb.Get(ctx, TopologyKey(s.instance)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topology from Redis: %w", err)
	}
	var raw topology.Raw
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode stored topology: %w", err)
	}
	if _, err := topology.Validate(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

func (s *RedisStore) Save(ctx context.Context, raw *topology.Raw) error {
	if _, err := topology.Validate(raw); err != nil {
		return err
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, TopologyKey(s.instance), doc, 0).Err(); err != nil {
		return fmt.Errorf("failed to write topology to Redis: %w", err)
	}
	ev, err := json.Marshal(event{Origin: s.origin, Topology: raw})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, TopologyEventsChannel(s.instance), ev).Err(); err != nil {
		return fmt.Errorf("failed to publish topology event: %w", err)
	}
	return nil
}

// Subscription delivers topology documents saved by other stores.
type Subscription struct {
	events chan *topology.Raw
	errors chan error
	cancel context.CancelFunc
}

func (s *Subscription) Events() <-chan *topology.Raw { return s.events }
func (s *Subscription) Errors() <-chan error         { return s.errors }
func (s *Subscription) Close()                       { s.cancel() }

// Watch subscribes to remote saves. It returns once the subscription is
// live. Undecodable or invalid documents are reported on Errors and skipped.
func (s *RedisStore) Watch(ctx context.Context) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, TopologyEventsChannel(s.instance))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to topology events: %w", err)
	}

	events := make(chan *topology.Raw, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev event
				err := json.Unmarshal([]byte(msg.Payload), &ev)
				if err == nil && ev.Origin == s.origin {
					continue
				}
				if err == nil && ev.Topology == nil {
					err = errors.New("event carries no topology")
				}
				if err == nil {
					_, err = topology.Validate(ev.Topology)
				}
				if err != nil {
					select {
					case errs <- fmt.Errorf("topology event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case events <- ev.Topology:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: events, errors: errs, cancel: cancel}, nil
}
