package system

import (
	"errors"
)

// Close releases the browser, the Redis client and the store, in that order.
// It is safe to call on a partially booted System.
func (s *System) Close() error {
	if s == nil {
		return nil
	}

	var errs []error

	if s.renderer != nil {
		if err := s.renderer.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		s.renderer = nil
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
		s.redis = nil
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		s.Store = nil
	}

	return errors.Join(errs...)
}
