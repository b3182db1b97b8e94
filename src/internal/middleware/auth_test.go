package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealerhub-realtime-svc/src/internal/auth"
	"dealerhub-realtime-svc/src/internal/models"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier map[string]string

func (v stubVerifier) Verify(token string) (*auth.Claims, error) {
	sub, ok := v[token]
	if !ok {
		return nil, models.ErrInvalidToken
	}
	return &auth.Claims{Subject: sub, TokenUse: "access"}, nil
}

type stubUsers struct {
	bySub   map[string]string
	members map[string]bool // tenant/user
}

func (s *stubUsers) FindByCognitoSub(_ context.Context, sub string) (*user.User, error) {
	id, ok := s.bySub[sub]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &user.User{ID: id, CognitoSub: sub}, nil
}

func (s *stubUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	return &user.User{ID: id}, nil
}

func (s *stubUsers) ListActiveTenantMembers(context.Context, string) ([]*user.User, error) {
	return nil, nil
}

func (s *stubUsers) IsActiveTenantMember(_ context.Context, tenantID, userID string) (bool, error) {
	return s.members[tenantID+"/"+userID], nil
}

func (s *stubUsers) MarkOnline(context.Context, string, time.Time) error  { return nil }
func (s *stubUsers) MarkOffline(context.Context, string, time.Time) error { return nil }

type refresherFunc func(ctx context.Context, userID, tenantID string)

func (f refresherFunc) UpdateActivity(ctx context.Context, userID, tenantID string) {
	f(ctx, userID, tenantID)
}

func newRouter(refresher ActivityRefresher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	m := NewAuthMiddleware(
		stubVerifier{"good": "sub-1", "orphan": "sub-none"},
		&stubUsers{
			bySub:   map[string]string{"sub-1": "u1"},
			members: map[string]bool{"t1/u1": true},
		},
	)
	r := gin.New()
	r.GET("/tenants/:tenantId/ping",
		m.RequireAuth(),
		m.RequireTenantAccess(),
		TrackActivity(refresher, time.Second),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextUserID)})
		})
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r := newRouter(refresherFunc(func(context.Context, string, string) {}))

	assert.Equal(t, http.StatusUnauthorized, do(r, "/tenants/t1/ping", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/tenants/t1/ping", "bad").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/tenants/t1/ping", "orphan").Code)

	w := do(r, "/tenants/t1/ping", "good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1"}`, w.Body.String())
}

func TestRequireTenantAccessRejectsNonMembers(t *testing.T) {
	r := newRouter(refresherFunc(func(context.Context, string, string) {}))

	assert.Equal(t, http.StatusForbidden, do(r, "/tenants/t2/ping", "good").Code)
}

func TestTrackActivityFiresInBackground(t *testing.T) {
	calls := make(chan [2]string, 1)
	r := newRouter(refresherFunc(func(_ context.Context, userID, tenantID string) {
		calls <- [2]string{userID, tenantID}
	}))

	require.Equal(t, http.StatusOK, do(r, "/tenants/t1/ping", "good").Code)

	select {
	case got := <-calls:
		assert.Equal(t, [2]string{"u1", "t1"}, got)
	case <-time.After(time.Second):
		t.Fatal("activity refresh was not triggered")
	}
}

func TestTrackActivityDoesNotBlockRequest(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := newRouter(refresherFunc(func(context.Context, string, string) { <-release }))

	done := make(chan int, 1)
	go func() { done <- do(r, "/tenants/t1/ping", "good").Code }()

	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("request waited on presence refresh")
	}
}
