package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// IdempotencyRecord caches the response of a completed request so an exact
// resubmission replays it instead of committing a second time.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseStatus int
	ResponseBody   []byte
}

// ReserveIdempotencyKey claims the key for an in-flight request. A completed
// key with the same payload hash returns the cached record; the same key with
// a different payload is a client error; a concurrent in-progress claim is a
// conflict.
func (s *Store) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.QueryRow(ctx,
		`SELECT key, request_hash, status, response_status, COALESCE(response_body, '{}')
		   FROM idempotency_keys WHERE key = $1`,
		key).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &rec.ResponseStatus, &rec.ResponseBody)
	if err == nil {
		if rec.RequestHash != requestHash {
			return nil, ErrIdempotencyMismatch
		}
		if rec.Status != "completed" {
			return nil, ErrIdempotencyConflict
		}
		return &rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, status, response_status)
		 VALUES ($1, $2, 'in_progress', 0)`,
		key, requestHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrIdempotencyConflict
		}
		return nil, err
	}
	return nil, nil
}

// CompleteIdempotencyKey stores the response for replay.
func (s *Store) CompleteIdempotencyKey(ctx context.Context, key string, responseStatus int, responseBody []byte) error {
	_, err := s.db.Exec(ctx,
		`UPDATE idempotency_keys
		    SET status = 'completed', response_status = $1, response_body = $2
		  WHERE key = $3`,
		responseStatus, responseBody, key)
	return err
}

// ReleaseIdempotencyKey drops a reservation whose request failed before a
// durable outcome, so the client can retry with the same key.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND status = 'in_progress'`, key)
	return err
}
