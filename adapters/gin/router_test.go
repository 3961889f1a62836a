package whitelistgin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandezvara/whitelistkit"
)

const adminToken = "admin-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *whitelistkit.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, _ := test.NewNullLogger()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := whitelistkit.NewService(whitelistkit.NewMemoryStore(),
		whitelistkit.WithLogger(logger),
		whitelistkit.WithClock(func() time.Time { return now }),
	)

	r := gin.New()
	Register(r, svc, Config{Middleware: whitelistkit.NewMiddleware(adminToken), Logger: logger})
	return r, svc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set(whitelistkit.ActorHeader, "admin-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/grants", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whitelist.txt", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGrantLifecycle(t *testing.T) {
	r, svc := newTestRouter(t)

	months := 1
	w := do(r, http.MethodPost, "/api/grants", map[string]any{
		"steam_id":       "76561198000000001",
		"username":       "donor",
		"source":         "donation",
		"duration_value": months,
		"duration_type":  "months",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var grant whitelistkit.Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	assert.Equal(t, "admin-1", grant.GrantedBy)

	w = do(r, http.MethodGet, "/api/subjects/76561198000000001/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status whitelistkit.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Active)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), status.ExpiresAt.UTC())

	w = do(r, http.MethodDelete, "/api/grants/"+grant.ID, map[string]string{"reason": "refund"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/api/grants/"+grant.ID, map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	logs, err := svc.GetAuditLog(context.Background(), whitelistkit.NewAuditLogFilter().WithTarget("76561198000000001"))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, "admin-1", l.ActorID)
	}
}

func TestGrantValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/grants", map[string]any{"steam_id": "1", "source": "role"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/grants", map[string]any{
		"steam_id": "1", "source": "manual", "duration_value": -1, "duration_type": "days",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/grants/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportCombined(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/roles", map[string]any{
		"discord_role_id":  "r-mod",
		"group_name":       "Moderator",
		"permission_set":   []string{"kick", "reserve"},
		"discord_position": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/grants", map[string]any{
		"steam_id": "76561198000000002", "username": "friend", "source": "manual",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/whitelist.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Group=Moderator:kick,reserve\n")
	assert.Contains(t, body, "Group=Whitelist:reserve\n")
	assert.Contains(t, body, "Admin=76561198000000002:Whitelist // friend\n")
	assert.Less(t, strings.Index(body, "Group=Moderator"), strings.Index(body, "Group=Whitelist"))

	w = do(r, http.MethodGet, "/whitelist.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payload struct {
		Groups []whitelistkit.ExportGroup `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Groups, 2)
	assert.Len(t, payload.Groups[1].Members, 1)
}

func TestRoleConfigDuplicateRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	body := map[string]any{"discord_role_id": "r1", "group_name": "VIP", "permission_set": []string{"reserve"}}
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/roles", body).Code)

	body["discord_role_id"] = "r2"
	w := do(r, http.MethodPost, "/api/roles", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VIP")
}

func TestSyncWithoutGuild(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVerifyLinkAndAudit(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/links/potential", map[string]any{
		"discord_user_id": "u1", "steam_id": "765", "source": "whitelist", "confidence": 0.7,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/links/u1/force-verify", map[string]any{"steam_id": "765"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1.0, res["confidence"])

	w = do(r, http.MethodGet, "/api/links/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var set whitelistkit.LinkSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	require.NotNil(t, set.Verified)
	assert.Equal(t, whitelistkit.LinkAdmin, set.Verified.LinkSource)

	w = do(r, http.MethodGet, "/api/audit?target_id=u1&action=link_verified", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "link_verified")

	w = do(r, http.MethodGet, "/api/audit?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthWithoutMonitor(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
