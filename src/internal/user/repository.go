package user

import (
	"context"
	"time"

	"dealerhub-realtime-svc/src/internal/models"
)

// Repository is the durable store the presence core reads identities and
// rosters from and writes transition timestamps to.
type Repository interface {
	FindByCognitoSub(ctx context.Context, sub string) (*User, error)
	FindByID(ctx context.Context, userID string) (*User, error)
	ListActiveTenantMembers(ctx context.Context, tenantID string) ([]*User, error)
	IsActiveTenantMember(ctx context.Context, tenantID, userID string) (bool, error)
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
}

// RequireMembership returns nil when userID is an active member of tenantID,
// models.ErrNotTenantMember when it is not, and the lookup error otherwise.
func RequireMembership(ctx context.Context, repo Repository, tenantID, userID string) error {
	if tenantID == "" || userID == "" {
		return models.ErrInvalidParams
	}
	ok, err := repo.IsActiveTenantMember(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotTenantMember
	}
	return nil
}
