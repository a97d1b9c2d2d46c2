// Package presence mirrors the live room directory into Redis so other
// services can see which rooms are active on this relay.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

const (
	DefaultTTL = 2 * time.Minute
	keyPrefix  = "codesync:room:"
	setKey     = "codesync:rooms"
	bufferSize = 1024
	opTimeout  = 5 * time.Second
)

type update struct {
	summary room.Summary
	closed  bool
}

// Directory writes room summaries to Redis from its own goroutine. Entries
// expire after ttl unless refreshed, so a crashed relay leaves nothing
// behind for long.
type Directory struct {
	client  *redis.Client
	ttl     time.Duration
	log     *slog.Logger
	updates chan update
	stop    chan struct{}
	wg      sync.WaitGroup

	// Rooms this process has published; owned by the worker
	live map[string]room.Summary

	dropped atomic.Uint64
}

// NewDirectory connects to redisURL and checks the connection.
func NewDirectory(redisURL string, ttl time.Duration, log *slog.Logger) (*Directory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDirectoryWithClient(client, ttl, log), nil
}

func NewDirectoryWithClient(client *redis.Client, ttl time.Duration, log *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		client:  client,
		ttl:     ttl,
		log:     log,
		updates: make(chan update, bufferSize),
		stop:    make(chan struct{}),
		live:    make(map[string]room.Summary),
	}
}

func key(roomID string) string {
	return keyPrefix + roomID
}

func (d *Directory) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Info("presence directory started", "ttl", d.ttl)
}

// Stop flushes queued updates, withdraws this relay's rooms and closes the
// client.
func (d *Directory) Stop() {
	close(d.stop)
	d.wg.Wait()
	if err := d.client.Close(); err != nil {
		d.log.Warn("closing redis client failed", "err", err)
	}
	d.log.Info("presence directory stopped", "dropped", d.dropped.Load())
}

func (d *Directory) RoomOpened(s room.Summary)  { d.enqueue(update{summary: s}) }
func (d *Directory) RoomChanged(s room.Summary) { d.enqueue(update{summary: s}) }
func (d *Directory) RoomClosed(s room.Summary)  { d.enqueue(update{summary: s, closed: true}) }

func (d *Directory) Dropped() uint64 { return d.dropped.Load() }

func (d *Directory) enqueue(u update) {
	select {
	case d.updates <- u:
	default:
		d.dropped.Inc()
	}
}

func (d *Directory) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case u := <-d.updates:
			d.apply(u)
		case <-ticker.C:
			d.refresh()
		case <-d.stop:
			for {
				select {
				case u := <-d.updates:
					d.apply(u)
				default:
					d.withdraw()
					return
				}
			}
		}
	}
}

func (d *Directory) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if u.closed {
		delete(d.live, u.summary.ID)
		if err := d.Remove(ctx, u.summary.ID); err != nil {
			d.log.Error("presence remove failed", "room", u.summary.ID, "err", err)
		}
		return
	}

	d.live[u.summary.ID] = u.summary
	if err := d.Put(ctx, u.summary); err != nil {
		d.log.Error("presence put failed", "room", u.summary.ID, "err", err)
	}
}

// Rewrites every live room so its TTL does not lapse
func (d *Directory) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	for id, s := range d.live {
		if err := d.Put(ctx, s); err != nil {
			d.log.Warn("presence refresh failed", "room", id, "err", err)
		}
	}
}

func (d *Directory) withdraw() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	for id := range d.live {
		if err := d.Remove(ctx, id); err != nil {
			d.log.Warn("presence withdraw failed", "room", id, "err", err)
		}
	}
	d.live = make(map[string]room.Summary)
}

// Put stores s under its room key with the directory TTL.
func (d *Directory) Put(ctx context.Context, s room.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal room summary: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, key(s.ID), data, d.ttl)
	pipe.SAdd(ctx, setKey, s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room %s: %w", s.ID, err)
	}
	return nil
}

func (d *Directory) Remove(ctx context.Context, roomID string) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, key(roomID))
	pipe.SRem(ctx, setKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove room %s: %w", roomID, err)
	}
	return nil
}

// Lookup returns the published summary for roomID.
func (d *Directory) Lookup(ctx context.Context, roomID string) (room.Summary, bool, error) {
	data, err := d.client.Get(ctx, key(roomID)).Bytes()
	if err == redis.Nil {
		return room.Summary{}, false, nil
	}
	if err != nil {
		return room.Summary{}, false, fmt.Errorf("lookup room %s: %w", roomID, err)
	}

	var s room.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return room.Summary{}, false, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return s, true, nil
}

// List returns every published room ordered by id. Ids whose entry has
// expired are dropped from the index.
func (d *Directory) List(ctx context.Context) ([]room.Summary, error) {
	ids, err := d.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Strings(ids)

	out := make([]room.Summary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s room.Summary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			d.log.Warn("skipping unreadable room entry", "room", ids[i], "err", err)
			continue
		}
		out = append(out, s)
	}

	if len(stale) > 0 {
		if err := d.client.SRem(ctx, setKey, stale...).Err(); err != nil {
			d.log.Warn("pruning stale room ids failed", "err", err)
		}
	}
	return out, nil
}

func (d *Directory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
