package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dgallion1/recordlens/internal/record"
)

// PutUpload archives the original document bytes next to the session.
func (s *Store) PutUpload(ctx context.Context, id string, data []byte) error {
	if err := s.rdb.Set(ctx, uploadKey(id), data, s.opts.SessionTTL).Err(); err != nil {
		return fmt.Errorf("put upload: %w", err)
	}
	return nil
}

// GetUpload returns the archived document, or record.ErrUploadUnavailable.
func (s *Store) GetUpload(ctx context.Context, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, uploadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, record.ErrUploadUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return data, nil
}

// HasUpload reports whether the document is still archived.
func (s *Store) HasUpload(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, uploadKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check upload: %w", err)
	}
	return n > 0, nil
}
