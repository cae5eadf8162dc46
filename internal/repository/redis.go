package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/stafflane/be-approvals/internal/errors"
	"github.com/stafflane/be-approvals/internal/workflow"
)

const requestKeyPrefix = "approval:request:"

// RedisStore is a Redis-backed Store. Each aggregate is one JSON document;
// optimistic concurrency rides on WATCH so a Save only commits when the
// stored version is still the one the caller read.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions holds connection settings for the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Create persists a new aggregate, refusing to overwrite an existing one.
func (s *RedisStore) Create(ctx context.Context, req *workflow.ApprovalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "marshal approval request")
	}
	ok, err := s.client.SetNX(ctx, requestKeyPrefix+req.ID, data, 0).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "store approval request")
	}
	if !ok {
		return errors.Conflict("approval request already exists")
	}
	return nil
}

// GetByID loads one aggregate.
func (s *RedisStore) GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	data, err := s.client.Get(ctx, requestKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("approval request", id)
	} else if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "load approval request")
	}
	var req workflow.ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "unmarshal approval request")
	}
	return &req, nil
}

// Save writes the aggregate under WATCH so a concurrent writer aborts the
// transaction and surfaces as a VersionConflict.
func (s *RedisStore) Save(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error {
	key := requestKeyPrefix + req.ID

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.NotFound("approval request", req.ID)
		} else if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "load approval request")
		}

		var stored workflow.ApprovalRequest
		if err := json.Unmarshal(data, &stored); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "unmarshal approval request")
		}
		if stored.Version != expectedVersion {
			return errors.VersionConflict("approval request", req.ID)
		}

		req.Version = expectedVersion + 1
		req.UpdatedAt = time.Now().UTC()
		buf, err := json.Marshal(req)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "marshal approval request")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		return err
	}, key)

	if stderrors.Is(err, redis.TxFailedErr) {
		// Key changed between read and EXEC.
		return errors.VersionConflict("approval request", req.ID)
	}
	return err
}

// Delete hard-removes the aggregate.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, requestKeyPrefix+id).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "delete approval request")
	}
	if n == 0 {
		return errors.NotFound("approval request", id)
	}
	return nil
}

// ListAll returns every request, newest first.
func (s *RedisStore) ListAll(ctx context.Context, pendingOnly bool) ([]*workflow.ApprovalRequest, error) {
	return s.scan(ctx, func(req *workflow.ApprovalRequest) bool {
		return !pendingOnly || !workflow.IsTerminal(req)
	})
}

// ListForApprover returns requests awaiting a decision from userID.
func (s *RedisStore) ListForApprover(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	return s.scan(ctx, func(req *workflow.ApprovalRequest) bool {
		return pendingFor(req, userID)
	})
}

// ListForRequester returns requests submitted by userID.
func (s *RedisStore) ListForRequester(ctx context.Context, userID string) ([]*workflow.ApprovalRequest, error) {
	return s.scan(ctx, func(req *workflow.ApprovalRequest) bool {
		return req.Requester.ID == userID
	})
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scan(ctx context.Context, keep func(*workflow.ApprovalRequest) bool) ([]*workflow.ApprovalRequest, error) {
	var out []*workflow.ApprovalRequest
	iter := s.client.Scan(ctx, 0, requestKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "load approval request")
		}
		var req workflow.ApprovalRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "unmarshal approval request")
		}
		if keep(&req) {
			out = append(out, &req)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan approval requests")
	}
	sortNewestFirst(out)
	return out, nil
}
