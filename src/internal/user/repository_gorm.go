package user

import (
	"context"
	"errors"
	"time"

	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type gormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates the users and tenant_memberships tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Membership{})
}

func (r *gormRepository) first(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where(query, arg).
		Where("deleted_at IS NULL").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrUserNotFound
		}
		logrus.WithError(err).Error("Failed to find user")
		return nil, models.ErrDatabaseQuery
	}
	return &u, nil
}

func (r *gormRepository) FindByCognitoSub(ctx context.Context, sub string) (*User, error) {
	return r.first(ctx, "cognito_sub = ?", sub)
}

func (r *gormRepository) FindByID(ctx context.Context, userID string) (*User, error) {
	return r.first(ctx, "id = ?", userID)
}

func (r *gormRepository) ListActiveTenantMembers(ctx context.Context, tenantID string) ([]*User, error) {
	users := []*User{}
	err := r.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN tenant_memberships m ON m.user_id = users.id").
		Where("m.tenant_id = ? AND m.is_active = ?", tenantID, true).
		Where("users.deleted_at IS NULL").
		Order("users.id").
		Find(&users).Error
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("Failed to list tenant members")
		return nil, models.ErrDatabaseQuery
	}
	return users, nil
}

func (r *gormRepository) IsActiveTenantMember(ctx context.Context, tenantID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Membership{}).
		Where("tenant_id = ? AND user_id = ? AND is_active = ?", tenantID, userID, true).
		Count(&count).Error
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
		}).Error("Failed to count memberships")
		return false, models.ErrDatabaseQuery
	}
	return count > 0, nil
}

func (r *gormRepository) update(ctx context.Context, userID string, values map[string]interface{}) error {
	values["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(values)
	if result.Error != nil {
		logrus.WithError(result.Error).WithField("user_id", userID).Error("Failed to update user presence")
		return models.ErrDatabaseUpdate
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *gormRepository) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, map[string]interface{}{
		"is_online":        true,
		"last_activity_at": at,
	})
}

func (r *gormRepository) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, map[string]interface{}{
		"is_online":    false,
		"last_seen_at": at,
	})
}
