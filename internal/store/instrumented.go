package store

import (
	"context"
	"errors"
	"time"
)

// Operation status values reported to a Recorder.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Recorder receives one observation per store operation.
// instrumentation.Metrics satisfies it.
type Recorder interface {
	RecordStoreOperation(ctx context.Context, operation, status string, duration time.Duration)
}

type instrumentedStore struct {
	next     Store
	recorder Recorder
}

// Instrument wraps s so that every operation is reported to r.
// A nil recorder returns s unchanged.
func Instrument(s Store, r Recorder) Store {
	if r == nil {
		return s
	}
	return &instrumentedStore{next: s, recorder: r}
}

func (s *instrumentedStore) observe(ctx context.Context, op string, start time.Time, err error) {
	status := StatusSuccess
	switch {
	case errors.Is(err, ErrNotFound):
		status = StatusNotFound
	case err != nil:
		status = StatusError
	}
	s.recorder.RecordStoreOperation(ctx, op, status, time.Since(start))
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.next.Set(ctx, key, value, ttl)
	s.observe(ctx, "set", start, err)
	return err
}

func (s *instrumentedStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.next.SetNX(ctx, key, value, ttl)
	s.observe(ctx, "setnx", start, err)
	return ok, err
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.next.Get(ctx, key)
	s.observe(ctx, "get", start, err)
	return v, err
}

func (s *instrumentedStore) Take(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.next.Take(ctx, key)
	s.observe(ctx, "take", start, err)
	return v, err
}

func (s *instrumentedStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	start := time.Now()
	err := s.next.Update(ctx, key, fn)
	s.observe(ctx, "update", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.observe(ctx, "delete", start, err)
	return err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe(ctx, "ping", start, err)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
