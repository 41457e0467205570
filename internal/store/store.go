// Package store persists sessions, stage artifacts, status history and
// final results in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dgallion1/recordlens/internal/record"
)

const (
	keyPrefix = "recordlens:"

	fieldSections  = "textSections"
	fieldExtracted = "extractedData"
	fieldAnalysis  = "validationAnalysis"

	defaultHistoryLimit = 100
)

// ErrExists is returned by Create when the session id is already taken.
var ErrExists = errors.New("session already exists")

// Options tunes retention.
type Options struct {
	SessionTTL   time.Duration
	ResultTTL    time.Duration
	HistoryLimit int
}

// Store is the Redis-backed session store.
type Store struct {
	rdb  *redis.Client
	opts Options
}

// Connect creates a Redis client and verifies connectivity.
func Connect(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func New(rdb *redis.Client, opts Options) *Store {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 365 * 24 * time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Store{rdb: rdb, opts: opts}
}

func sessionKey(id string) string   { return keyPrefix + "session:" + id }
func artifactsKey(id string) string { return sessionKey(id) + ":artifacts" }
func uploadKey(id string) string    { return sessionKey(id) + ":upload" }
func eventsKey(id string) string    { return sessionKey(id) + ":events" }
func userKey(uid string) string     { return keyPrefix + "user:" + uid + ":sessions" }
func inflightKey(uid string) string { return keyPrefix + "user:" + uid + ":inflight" }

func resultKey(uid, sid string) string {
	return keyPrefix + "result:" + uid + ":" + sid
}

// Event is one recorded status transition.
type Event struct {
	Status  record.Status `json:"status"`
	Attempt int           `json:"attempt"`
	At      time.Time     `json:"at"`
}

// Update carries the artifacts written together with a status change.
// Nil fields are left untouched.
type Update struct {
	TextSections       *record.TextSections
	ExtractedData      *record.ExtractedData
	ValidationAnalysis record.ValidationAnalysis
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Create stores a new session, indexes it under its owner and, when the
// content hash is known, registers it as the in-flight run for that content.
func (s *Store) Create(ctx context.Context, sess *record.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, sessionKey(sess.ID), data, s.opts.SessionTTL).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrExists
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, userKey(sess.UserID), redis.Z{
		Score:  float64(sess.CreatedAt.UnixMilli()),
		Member: sess.ID,
	})
	pipe.Expire(ctx, userKey(sess.UserID), s.opts.SessionTTL)
	if sess.ContentHash != "" {
		pipe.HSet(ctx, inflightKey(sess.UserID), sess.ContentHash, sess.ID)
		pipe.Expire(ctx, inflightKey(sess.UserID), s.opts.SessionTTL)
	}
	s.appendEvent(ctx, pipe, sess)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// Get loads a session. Unknown or expired ids yield record.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*record.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess record.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Save writes the session status and any artifacts in one MULTI block and
// appends the status to the session history. A terminal session leaves
// the in-flight index.
func (s *Store) Save(ctx context.Context, sess *record.Session, upd Update) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if upd.TextSections != nil {
		if fields[fieldSections], err = json.Marshal(upd.TextSections); err != nil {
			return err
		}
	}
	if upd.ExtractedData != nil {
		if fields[fieldExtracted], err = json.Marshal(upd.ExtractedData); err != nil {
			return err
		}
	}
	if upd.ValidationAnalysis != nil {
		if fields[fieldAnalysis], err = json.Marshal(upd.ValidationAnalysis); err != nil {
			return err
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.opts.SessionTTL)
	if len(fields) > 0 {
		pipe.HSet(ctx, artifactsKey(sess.ID), fields)
		pipe.Expire(ctx, artifactsKey(sess.ID), s.opts.SessionTTL)
	}
	if sess.Status.Stage.Terminal() && sess.ContentHash != "" {
		pipe.HDel(ctx, inflightKey(sess.UserID), sess.ContentHash)
	}
	s.appendEvent(ctx, pipe, sess)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) appendEvent(ctx context.Context, pipe redis.Pipeliner, sess *record.Session) {
	ev, _ := json.Marshal(Event{Status: sess.Status, Attempt: sess.Attempt, At: sess.UpdatedAt})
	key := eventsKey(sess.ID)
	pipe.RPush(ctx, key, ev)
	pipe.LTrim(ctx, key, int64(-s.opts.HistoryLimit), -1)
	pipe.Expire(ctx, key, s.opts.SessionTTL)
}

// Artifacts returns the persisted checkpoints of a session.
func (s *Store) Artifacts(ctx context.Context, id string) (record.Artifacts, error) {
	var art record.Artifacts
	fields, err := s.rdb.HGetAll(ctx, artifactsKey(id)).Result()
	if err != nil {
		return art, fmt.Errorf("get artifacts: %w", err)
	}
	if raw, ok := fields[fieldSections]; ok {
		var ts record.TextSections
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			return art, fmt.Errorf("decode sections: %w", err)
		}
		art.TextSections = &ts
	}
	if raw, ok := fields[fieldExtracted]; ok {
		var d record.ExtractedData
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return art, fmt.Errorf("decode extracted data: %w", err)
		}
		d.Normalize()
		art.ExtractedData = &d
	}
	if raw, ok := fields[fieldAnalysis]; ok {
		var v record.ValidationAnalysis
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return art, fmt.Errorf("decode analysis: %w", err)
		}
		art.ValidationAnalysis = v.Normalize()
	}
	return art, nil
}

// History returns the recorded status transitions, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Event, error) {
	raw, err := s.rdb.LRange(ctx, eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// List returns up to limit sessions of a user, newest first. Expired
// sessions are pruned from the index.
func (s *Store) List(ctx context.Context, uid string, limit int) ([]*record.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, userKey(uid), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*record.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, record.ErrNotFound) {
			s.rdb.ZRem(ctx, userKey(uid), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// InflightByHash returns the id of the running session for the same
// content, or "" when there is none.
func (s *Store) InflightByHash(ctx context.Context, uid, hash string) (string, error) {
	id, err := s.rdb.HGet(ctx, inflightKey(uid), hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get inflight: %w", err)
	}
	return id, nil
}

// PutResult writes the final record once. It reports false when a result
// already exists for the session.
func (s *Store) PutResult(ctx context.Context, uid, sid string, res record.StoredResult) (bool, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, resultKey(uid, sid), data, s.opts.ResultTTL).Result()
	if err != nil {
		return false, fmt.Errorf("put result: %w", err)
	}
	return ok, nil
}

// GetResult loads the final record, or record.ErrNotFound.
func (s *Store) GetResult(ctx context.Context, uid, sid string) (*record.StoredResult, error) {
	data, err := s.rdb.Get(ctx, resultKey(uid, sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res record.StoredResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	res.ExtractedData.Normalize()
	res.ValidationAnalysis = res.ValidationAnalysis.Normalize()
	return &res, nil
}
