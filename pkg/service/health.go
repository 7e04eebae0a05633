package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Dependency states reported by CheckHealth.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Health is the state of the backing stores.
type Health struct {
	Database string
	Redis    string
	// Err joins the ping failures; nil when every dependency is up.
	Err error
}

// Healthy reports whether every dependency answered.
func (h *Health) Healthy() bool {
	return h.Err == nil
}

func (s *service) CheckHealth(ctx context.Context) *Health {
	h := &Health{Database: StatusUp, Redis: StatusUp}

	var errs []error
	if err := s.repository.Ping(ctx); err != nil {
		h.Database = StatusDown
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := s.staging.Ping(ctx); err != nil {
		h.Redis = StatusDown
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}

	if len(errs) > 0 {
		h.Err = errors.Join(errs...)
		s.log.Warn("CheckHealth: Dependency down", zap.Error(h.Err))
	}
	return h
}
