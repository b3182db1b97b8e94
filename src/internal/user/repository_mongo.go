package user

import (
	"context"
	"errors"
	"time"

	"dealerhub-realtime-svc/src/clients"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	users       *mongo.Collection
	memberships *mongo.Collection
}

func NewMongoRepository(db *clients.MongoDB, usersCollection, membershipsCollection string) Repository {
	return &mongoRepository{
		users:       db.Database.Collection(usersCollection),
		memberships: db.Database.Collection(membershipsCollection),
	}
}

// notDeleted matches documents whose deleted_at is absent or null.
func notDeleted() bson.M {
	return bson.M{"deleted_at": nil}
}

func (r *mongoRepository) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var u User
	err := r.users.FindOne(ctx, filter).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrUserNotFound
		}
		logrus.WithError(err).Error("Failed to find user")
		return nil, models.ErrDatabaseQuery
	}
	return &u, nil
}

func (r *mongoRepository) FindByCognitoSub(ctx context.Context, sub string) (*User, error) {
	filter := notDeleted()
	filter["cognito_sub"] = sub
	return r.findOne(ctx, filter)
}

func (r *mongoRepository) FindByID(ctx context.Context, userID string) (*User, error) {
	filter := notDeleted()
	filter["_id"] = userID
	return r.findOne(ctx, filter)
}

func (r *mongoRepository) ListActiveTenantMembers(ctx context.Context, tenantID string) ([]*User, error) {
	cursor, err := r.memberships.Find(ctx, bson.M{"tenant_id": tenantID, "is_active": true})
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("Failed to find memberships")
		return nil, models.ErrDatabaseQuery
	}
	var memberships []Membership
	if err := cursor.All(ctx, &memberships); err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("Failed to decode memberships")
		return nil, models.ErrDatabaseQuery
	}
	if len(memberships) == 0 {
		return []*User{}, nil
	}

	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.UserID
	}

	filter := notDeleted()
	filter["_id"] = bson.M{"$in": ids}
	cursor, err = r.users.Find(ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("Failed to find tenant users")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	users := make([]*User, 0, len(ids))
	for cursor.Next(ctx) {
		var u User
		if err := cursor.Decode(&u); err != nil {
			logrus.WithError(err).Error("Failed to decode user")
			continue
		}
		if !u.IsActive() {
			continue
		}
		users = append(users, &u)
	}
	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"count":     len(users),
	}).Debug("Retrieved active tenant members")

	return users, nil
}

func (r *mongoRepository) IsActiveTenantMember(ctx context.Context, tenantID, userID string) (bool, error) {
	count, err := r.memberships.CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"user_id":   userID,
		"is_active": true,
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
		}).Error("Failed to count memberships")
		return false, models.ErrDatabaseQuery
	}
	return count > 0, nil
}

func (r *mongoRepository) update(ctx context.Context, userID string, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to update user presence")
		return models.ErrDatabaseUpdate
	}
	if result.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *mongoRepository) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, bson.M{
		"is_online":        true,
		"last_activity_at": at,
	})
}

func (r *mongoRepository) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, bson.M{
		"is_online":    false,
		"last_seen_at": at,
	})
}
