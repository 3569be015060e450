package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/lumibook/monetize/pkg/boost"
	"github.com/lumibook/monetize/pkg/tokens"
	"gorm.io/gorm"
)

// Boosts implements boost.Store using GORM.
type Boosts struct {
	db *gorm.DB
}

// NewBoosts returns a boost store backed by gorm.DB.
func NewBoosts(db *gorm.DB) *Boosts {
	return &Boosts{db: db}
}

func (store *Boosts) InsertBoost(ctx context.Context, record boost.Boost) (boost.Boost, error) {
	model := Boost{
		ProviderID:  record.ProviderID,
		Scope:       record.Scope.String(),
		TokensSpent: record.TokensSpent,
		StartAt:     time.Unix(record.StartUnixUTC, 0).UTC(),
		EndAt:       time.Unix(record.EndUnixUTC, 0).UTC(),
		Status:      record.Status.String(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return boost.Boost{}, wrapBoostError(errorCodeCreate, err)
	}
	return mapBoost(model)
}

func (store *Boosts) GetBoost(ctx context.Context, boostID string) (boost.Boost, error) {
	var model Boost
	err := store.db.WithContext(ctx).
		Where("boost_id = ?", boostID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return boost.Boost{}, wrapBoostError(errorCodeGet, boost.ErrUnknownBoost)
		}
		return boost.Boost{}, wrapBoostError(errorCodeGet, err)
	}
	return mapBoost(model)
}

func (store *Boosts) ListActiveBoosts(ctx context.Context, providerID tokens.ProviderID, atUnixUTC int64) ([]boost.Boost, error) {
	at := time.Unix(atUnixUTC, 0).UTC()
	var rows []Boost
	err := store.db.WithContext(ctx).
		Where("provider_id = ? AND status = ? AND start_at <= ? AND end_at > ?",
			providerID.String(), boost.StatusActive.String(), at, at).
		Find(&rows).Error
	if err != nil {
		return nil, wrapBoostError(errorCodeList, err)
	}
	return mapBoosts(rows)
}

func (store *Boosts) ExpireDue(ctx context.Context, nowUnixUTC int64) ([]boost.Boost, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	var candidates []Boost
	err := store.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", boost.StatusActive.String(), now).
		Find(&candidates).Error
	if err != nil {
		return nil, wrapBoostError(errorCodeList, err)
	}

	expired := make([]boost.Boost, 0, len(candidates))
	for _, candidate := range candidates {
		// Guarded per-row flip: a concurrent sweep claims each boost at
		// most once.
		result := store.db.WithContext(ctx).
			Model(&Boost{}).
			Where("boost_id = ? AND status = ?", candidate.BoostID, boost.StatusActive.String()).
			Update("status", boost.StatusExpired.String())
		if result.Error != nil {
			return expired, wrapBoostError(errorCodeUpdateStatus, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		candidate.Status = boost.StatusExpired.String()
		record, mapError := mapBoost(candidate)
		if mapError != nil {
			return expired, mapError
		}
		expired = append(expired, record)
	}
	return expired, nil
}

func (store *Boosts) SetStatus(ctx context.Context, boostID string, from boost.Status, to boost.Status) error {
	result := store.db.WithContext(ctx).
		Model(&Boost{}).
		Where("boost_id = ? AND status = ?", boostID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapBoostError(errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapBoostError(errorCodeUpdateStatus, boost.ErrBoostClosed)
	}
	return nil
}

func (store *Boosts) ListBoosts(ctx context.Context, providerID tokens.ProviderID) ([]boost.Boost, error) {
	var rows []Boost
	err := store.db.WithContext(ctx).
		Where("provider_id = ?", providerID.String()).
		Order("start_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapBoostError(errorCodeList, err)
	}
	return mapBoosts(rows)
}

func wrapBoostError(code string, err error) error {
	return tokens.WrapError(errorOperationStore, errorSubjectBoost, code, err)
}

func mapBoost(model Boost) (boost.Boost, error) {
	scope, err := boost.ParseScope(model.Scope)
	if err != nil {
		return boost.Boost{}, wrapBoostError(errorCodeInvalid, err)
	}
	status, err := boost.ParseStatus(model.Status)
	if err != nil {
		return boost.Boost{}, wrapBoostError(errorCodeInvalid, err)
	}
	return boost.Boost{
		BoostID:      model.BoostID,
		ProviderID:   model.ProviderID,
		Scope:        scope,
		TokensSpent:  model.TokensSpent,
		StartUnixUTC: model.StartAt.Unix(),
		EndUnixUTC:   model.EndAt.Unix(),
		Status:       status,
	}, nil
}

func mapBoosts(rows []Boost) ([]boost.Boost, error) {
	listed := make([]boost.Boost, 0, len(rows))
	for _, row := range rows {
		record, err := mapBoost(row)
		if err != nil {
			return nil, err
		}
		listed = append(listed, record)
	}
	return listed, nil
}
