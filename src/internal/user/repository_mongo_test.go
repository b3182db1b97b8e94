package user

import (
	"context"
	"testing"
	"time"

	"dealerhub-realtime-svc/src/clients"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func newMongoTestRepo(mt *mtest.T) Repository {
	return NewMongoRepository(&clients.MongoDB{Client: mt.Client, Database: mt.DB}, "users", "tenant_memberships")
}

func commandFilter(t *testing.T, evt *event.CommandStartedEvent) bson.M {
	t.Helper()
	var filter bson.M
	require.NoError(t, bson.Unmarshal(evt.Command.Lookup("filter").Document(), &filter))
	return filter
}

func TestMongoListActiveTenantMembers(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("joins memberships to live users", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		deleted := time.Now().Add(-time.Hour)

		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, mt.DB.Name()+".tenant_memberships", mtest.FirstBatch,
				bson.D{{Key: "tenant_id", Value: "t1"}, {Key: "user_id", Value: "u1"}, {Key: "is_active", Value: true}},
				bson.D{{Key: "tenant_id", Value: "t1"}, {Key: "user_id", Value: "u2"}, {Key: "is_active", Value: true}},
				bson.D{{Key: "tenant_id", Value: "t1"}, {Key: "user_id", Value: "u3"}, {Key: "is_active", Value: true}},
			),
			mtest.CreateCursorResponse(0, mt.DB.Name()+".users", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: "u1"}, {Key: "cognito_sub", Value: "sub-1"}},
				bson.D{{Key: "_id", Value: "u2"}, {Key: "cognito_sub", Value: "sub-2"}},
				// a soft delete racing the query still never surfaces
				bson.D{{Key: "_id", Value: "u3"}, {Key: "cognito_sub", Value: "sub-3"}, {Key: "deleted_at", Value: deleted}},
			),
		)

		users, err := repo.ListActiveTenantMembers(context.Background(), "t1")
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "u1", users[0].ID)
		assert.Equal(t, "u2", users[1].ID)

		started := mt.GetAllStartedEvents()
		require.Len(t, started, 2)

		assert.Equal(t, "tenant_memberships", started[0].Command.Lookup("find").StringValue())
		assert.Equal(t, bson.M{"tenant_id": "t1", "is_active": true}, commandFilter(t, started[0]))

		assert.Equal(t, "users", started[1].Command.Lookup("find").StringValue())
		assert.Equal(t, bson.M{
			"deleted_at": nil,
			"_id":        bson.M{"$in": bson.A{"u1", "u2", "u3"}},
		}, commandFilter(t, started[1]))
	})

	mt.Run("no memberships skips user query", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".tenant_memberships", mtest.FirstBatch))

		users, err := repo.ListActiveTenantMembers(context.Background(), "empty")
		require.NoError(t, err)
		assert.Empty(t, users)
		assert.Len(t, mt.GetAllStartedEvents(), 1)
	})

	mt.Run("query failure", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad filter",
		}))

		_, err := repo.ListActiveTenantMembers(context.Background(), "t1")
		assert.ErrorIs(t, err, models.ErrDatabaseQuery)
	})
}

func TestMongoIsActiveTenantMember(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("member", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".tenant_memberships", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(1)}}))

		ok, err := repo.IsActiveTenantMember(context.Background(), "t1", "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	mt.Run("not a member", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".tenant_memberships", mtest.FirstBatch))

		ok, err := repo.IsActiveTenantMember(context.Background(), "t1", "u9")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMongoFindByCognitoSub(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".users", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "u1"}, {Key: "cognito_sub", Value: "sub-1"}, {Key: "email", Value: "one@example.com"}}))

		u, err := repo.FindByCognitoSub(context.Background(), "sub-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "one@example.com", u.Email)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, bson.M{"deleted_at": nil, "cognito_sub": "sub-1"}, commandFilter(t, started))
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".users", mtest.FirstBatch))

		_, err := repo.FindByCognitoSub(context.Background(), "sub-x")
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}

func TestMongoMarkOnlineOffline(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("sets presence fields", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: int32(1)},
			bson.E{Key: "nModified", Value: int32(1)},
		))

		require.NoError(t, repo.MarkOnline(context.Background(), "u1", at))

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		update := started.Command.Lookup("updates").Array().Index(0).Value().Document()
		set := update.Lookup("u", "$set").Document()
		assert.True(t, set.Lookup("is_online").Boolean())
		assert.Equal(t, at, set.Lookup("last_activity_at").Time().UTC())
	})

	mt.Run("unknown user", func(mt *mtest.T) {
		repo := newMongoTestRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: int32(0)},
			bson.E{Key: "nModified", Value: int32(0)},
		))

		err := repo.MarkOffline(context.Background(), "ghost", time.Now())
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}
