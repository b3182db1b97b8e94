package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealerhub-realtime-svc/src/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newHandlerRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(config.Default(), f.store)
	r := gin.New()
	r.GET("/tenants/:tenantId/presence", h.GetTenantPresence)
	r.GET("/tenants/:tenantId/presence/online", h.GetOnlineUsers)
	r.GET("/tenants/:tenantId/presence/users/:userId", h.GetUserStatus)
	return r
}

func get(t *testing.T, r http.Handler, path string, out interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestHandlerTenantPresence(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnline(context.Background(), "sub-alice", "t1")
	r := newHandlerRouter(f)

	var data struct {
		Users       []UserPresence `json:"users"`
		OnlineCount int            `json:"onlineCount"`
		TotalCount  int            `json:"totalCount"`
	}
	get(t, r, "/tenants/t1/presence", &data)

	assert.Equal(t, 2, data.TotalCount)
	assert.Equal(t, 1, data.OnlineCount)
}

func TestHandlerOnlineUsers(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnline(context.Background(), "sub-bob", "t1")
	r := newHandlerRouter(f)

	var data struct {
		Users []UserPresence `json:"users"`
		Count int            `json:"count"`
	}
	get(t, r, "/tenants/t1/presence/online", &data)

	require.Equal(t, 1, data.Count)
	assert.Equal(t, "bob", data.Users[0].UserID)
}

func TestHandlerUserStatus(t *testing.T) {
	f := newFixture(t)
	f.store.SetOnline(context.Background(), "sub-bob", "t1")
	r := newHandlerRouter(f)

	var data struct {
		UserID   string `json:"userId"`
		IsOnline bool   `json:"isOnline"`
	}
	get(t, r, "/tenants/t1/presence/users/bob", &data)
	assert.Equal(t, "bob", data.UserID)
	assert.True(t, data.IsOnline)

	get(t, r, "/tenants/t1/presence/users/alice", &data)
	assert.Equal(t, "alice", data.UserID)
	assert.False(t, data.IsOnline)
}
