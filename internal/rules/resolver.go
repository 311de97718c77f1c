// Package rules resolves which loan policy applies to an item and patron and
// caches the answers until the circulation rules change.
package rules

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Criteria are the attributes circulation rules match on.
type Criteria struct {
	MaterialTypeID string
	LoanTypeID     string
	PatronGroupID  string
	LocationID     string
}

// Key identifies the criteria in a cache.
func (c Criteria) Key() string {
	return strings.Join([]string{c.MaterialTypeID, c.LoanTypeID, c.PatronGroupID, c.LocationID}, "|")
}

// Resolver maps criteria to a loan policy id.
type Resolver interface {
	ResolveLoanPolicyID(ctx context.Context, criteria Criteria) (string, error)
}

// Cache stores resolved policy ids.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Add(ctx context.Context, key, policyID string) error
	InvalidateAll(ctx context.Context) error
}

// CachingResolver fronts a Resolver with a cache that is emptied whenever the
// rules are rewritten.
type CachingResolver struct {
	next   Resolver
	cache  Cache
	logger *zap.Logger
}

func NewCachingResolver(next Resolver, cache Cache, logger *zap.Logger) *CachingResolver {
	return &CachingResolver{next: next, cache: cache, logger: logger}
}

func (r *CachingResolver) ResolveLoanPolicyID(ctx context.Context, criteria Criteria) (string, error) {
	key := criteria.Key()

	id, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("loan policy cache lookup failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return id, nil
	}

	id, err = r.next.ResolveLoanPolicyID(ctx, criteria)
	if err != nil {
		return "", err
	}

	if err := r.cache.Add(ctx, key, id); err != nil {
		r.logger.Warn("failed to cache loan policy id", zap.String("key", key), zap.Error(err))
	}
	return id, nil
}

// Invalidate drops every cached answer. Call it after the rules are written.
func (r *CachingResolver) Invalidate(ctx context.Context) error {
	if err := r.cache.InvalidateAll(ctx); err != nil {
		return err
	}
	r.logger.Info("loan policy cache invalidated")
	return nil
}
