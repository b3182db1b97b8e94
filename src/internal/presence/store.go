package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dealerhub-realtime-svc/src/internal/cache"
	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// UserPresence is one user's computed presence within a tenant.
type UserPresence struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// ActivityPublisher receives online/offline transitions. Optional.
type ActivityPublisher interface {
	PublishActivity(ctx context.Context, userID, tenantID, action string) error
}

// Store is the only reader and writer of presence keys. Every operation is
// best effort: failures are logged and never returned to the caller.
type Store interface {
	ResolveUserID(ctx context.Context, subject string) (string, error)
	SetOnline(ctx context.Context, subject, tenantID string)
	UpdateActivity(ctx context.Context, userID, tenantID string)
	IsOnline(ctx context.Context, userID, tenantID string) bool
	GetOnlineUsers(ctx context.Context, tenantID string) []UserPresence
	GetTenantUsersPresence(ctx context.Context, tenantID string) []UserPresence
	SetOffline(ctx context.Context, subject, tenantID string)
}

type store struct {
	cache       cache.Service
	users       user.Repository
	publisher   ActivityPublisher
	prefix      string
	ttl         time.Duration
	threshold   time.Duration
	concurrency int
	now         func() time.Time
}

func NewStore(cacheService cache.Service, users user.Repository, publisher ActivityPublisher, cfg *config.PresenceConfig) Store {
	return &store{
		cache:       cacheService,
		users:       users,
		publisher:   publisher,
		prefix:      cfg.KeyPrefix,
		ttl:         time.Duration(cfg.TTLSeconds) * time.Second,
		threshold:   time.Duration(cfg.ThresholdSeconds) * time.Second,
		concurrency: cfg.CheckConcurrency,
		now:         time.Now,
	}
}

// presenceKey is presence:{tenantId}:{userId}.
func (s *store) presenceKey(tenantID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, tenantID, userID)
}

// tenantSetKey is presence:tenant:{tenantId}.
func (s *store) tenantSetKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s", s.prefix, tenantID)
}

func (s *store) ResolveUserID(ctx context.Context, subject string) (string, error) {
	if subject == "" {
		return "", models.ErrSubjectUnresolved
	}
	u, err := s.users.FindByCognitoSub(ctx, subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSubjectUnresolved, err)
	}
	return u.ID, nil
}

func (s *store) resolveOrLog(ctx context.Context, subject, tenantID, op string) (string, bool) {
	userID, err := s.ResolveUserID(ctx, subject)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"cognito_sub": subject,
			"tenant_id":   tenantID,
			"op":          op,
		}).Warn("Presence skipped: subject not resolvable")
		return "", false
	}
	return userID, true
}

func (s *store) SetOnline(ctx context.Context, subject, tenantID string) {
	userID, ok := s.resolveOrLog(ctx, subject, tenantID, "set_online")
	if !ok {
		return
	}

	now := s.now()
	if err := s.cache.SetWithMember(ctx, s.presenceKey(tenantID, userID), now.UnixMilli(), s.ttl,
		s.tenantSetKey(tenantID), userID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"tenant_id": tenantID,
		}).Error("Failed to write presence key")
	}

	if err := s.users.MarkOnline(ctx, userID, now.UTC()); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to persist online state")
	}

	s.publish(ctx, userID, tenantID, models.ActionUserOnline)

	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"tenant_id": tenantID,
	}).Debug("User marked online")
}

func (s *store) UpdateActivity(ctx context.Context, userID, tenantID string) {
	if userID == "" || tenantID == "" {
		return
	}
	err := s.cache.SetWithMember(ctx, s.presenceKey(tenantID, userID), s.now().UnixMilli(), s.ttl,
		s.tenantSetKey(tenantID), userID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"tenant_id": tenantID,
		}).Warn("Failed to refresh presence activity")
	}
}

// lastActivity returns the epoch-ms timestamp stored under the presence key.
func (s *store) lastActivity(ctx context.Context, userID, tenantID string) (time.Time, bool) {
	ms, ok, err := s.cache.GetInt64(ctx, s.presenceKey(tenantID, userID))
	if err != nil || !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// fresh applies the activity threshold; an existing key alone is not online.
func (s *store) fresh(at time.Time) bool {
	return s.now().Sub(at) < s.threshold
}

func (s *store) IsOnline(ctx context.Context, userID, tenantID string) bool {
	at, ok := s.lastActivity(ctx, userID, tenantID)
	return ok && s.fresh(at)
}

func (s *store) GetOnlineUsers(ctx context.Context, tenantID string) []UserPresence {
	setKey := s.tenantSetKey(tenantID)
	members, err := s.cache.Members(ctx, setKey)
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to read tenant online set")
		return []UserPresence{}
	}

	online := make([]UserPresence, 0, len(members))
	for _, userID := range members {
		at, ok := s.lastActivity(ctx, userID, tenantID)
		if !ok {
			if _, err := s.cache.RemoveMemberIfExpired(ctx, s.presenceKey(tenantID, userID), setKey, userID); err == nil {
				logrus.WithFields(logrus.Fields{
					"user_id":   userID,
					"tenant_id": tenantID,
				}).Debug("Pruned expired online-set member")
			}
			continue
		}
		if !s.fresh(at) {
			continue
		}
		seen := at
		online = append(online, UserPresence{UserID: userID, IsOnline: true, LastSeenAt: &seen})
	}

	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return online
}

func (s *store) GetTenantUsersPresence(ctx context.Context, tenantID string) []UserPresence {
	members, err := s.users.ListActiveTenantMembers(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to list tenant members")
		return []UserPresence{}
	}

	result := make([]UserPresence, len(members))
	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, member := range members {
		g.Go(func() error {
			p := UserPresence{UserID: member.ID, LastSeenAt: member.LastSeenAt}
			if at, ok := s.lastActivity(gctx, member.ID, tenantID); ok {
				seen := at
				p.LastSeenAt = &seen
				p.IsOnline = s.fresh(at)
			}
			result[i] = p
			return nil
		})
	}
	_ = g.Wait()

	return result
}

func (s *store) SetOffline(ctx context.Context, subject, tenantID string) {
	userID, ok := s.resolveOrLog(ctx, subject, tenantID, "set_offline")
	if !ok {
		return
	}

	if err := s.cache.DeleteWithMember(ctx, s.presenceKey(tenantID, userID),
		s.tenantSetKey(tenantID), userID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"tenant_id": tenantID,
		}).Error("Failed to clear presence key")
	}

	if err := s.users.MarkOffline(ctx, userID, s.now().UTC()); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to persist offline state")
	}

	s.publish(ctx, userID, tenantID, models.ActionUserOffline)

	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"tenant_id": tenantID,
	}).Debug("User marked offline")
}

func (s *store) publish(ctx context.Context, userID, tenantID, action string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishActivity(ctx, userID, tenantID, action); err != nil {
		logrus.WithError(err).WithField("action", action).Warn("Failed to publish presence activity")
	}
}
