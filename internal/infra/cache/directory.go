package cache

import (
	"context"
	"encoding/json"
	"time"

	"reward_verification_service/internal/domain/business"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Directory resolves businesses through a Cache, falling back to the repository.
// Cache failures degrade to a repository read.
type Directory struct {
	repo   business.Repository
	cache  Cache
	ttl    time.Duration
	logger *logrus.Entry
}

func NewDirectory(repo business.Repository, c Cache, ttl time.Duration, logger *logrus.Entry) *Directory {
	return &Directory{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger.WithField("component", "business_directory"),
	}
}

func businessKey(id uuid.UUID) string {
	return "business:" + id.String()
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*business.Business, error) {
	key := businessKey(id)
	raw, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.WithError(err).WithField("business_id", id).Warn("Business cache read failed")
	}
	if ok {
		var b business.Business
		if err := json.Unmarshal(raw, &b); err == nil {
			return &b, nil
		}
		d.logger.WithField("business_id", id).Warn("Discarding undecodable cache entry")
	}

	b, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(b); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.WithError(err).WithField("business_id", id).Warn("Business cache write failed")
		}
	}
	return b, nil
}
