package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tokengate-io/tokengate/internal/authorizer"
	"github.com/tokengate-io/tokengate/internal/config"
	"github.com/tokengate-io/tokengate/internal/database"
	"github.com/tokengate-io/tokengate/internal/notify"
	"github.com/tokengate-io/tokengate/internal/token"
)

type capturedDelivery struct {
	messages []notify.Message
}

func (c *capturedDelivery) Deliver(ctx context.Context, msg notify.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func newTestApi(t *testing.T) (*Api, *capturedDelivery, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db, "sqlite"))

	cfg := config.Config{APIPort: 8081}
	cfg.Service.BaseURL = "https://accounts.example.com"
	cfg.Service.AdminSecret = "test-admin-secret"

	delivery := &capturedDelivery{}
	store := token.NewSQLStore(db, "sqlite", nil, 0, 0)
	users := authorizer.NewSQLUserDirectory(db, "sqlite")
	authz := authorizer.New(store, users, delivery, cfg.Service.BaseURL, nil)

	apiInstance, err := NewApi(cfg, authz, nil)
	require.NoError(t, err)

	return apiInstance, delivery, db
}

func seedUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Original-Pass1"), bcrypt.DefaultCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	result, err := db.Exec(
		"INSERT INTO users (email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)",
		email, string(hash), now, now,
	)
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func postJSON(api *Api, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func TestRequestActionHandler(t *testing.T) {
	apiInstance, delivery, db := newTestApi(t)
	seedUser(t, db, "user@example.com")

	t.Run("KnownAddress", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/request",
			`{"email": "user@example.com", "kind": "password_reset"}`, nil)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Len(t, delivery.messages, 1)
	})

	t.Run("UnknownAddressIndistinguishable", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/request",
			`{"email": "nobody@example.com", "kind": "password_reset"}`, nil)

		// Same status and body as the known-address case
		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.JSONEq(t, `{"status": "accepted"}`, rr.Body.String())
		assert.Len(t, delivery.messages, 1, "no new delivery for unknown address")
	})

	t.Run("BadEmail", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/request",
			`{"email": "not-an-email", "kind": "password_reset"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/request",
			`{"email": "user@example.com", "kind": "mystery"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("BadJSON", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/request", `{"email":`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCompleteActionHandler(t *testing.T) {
	apiInstance, delivery, db := newTestApi(t)
	seedUser(t, db, "user@example.com")

	rr := postJSON(apiInstance, "/actions/request",
		`{"email": "user@example.com", "kind": "password_reset"}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, delivery.messages, 1)

	actionURL := delivery.messages[0].ActionURL
	value := actionURL[strings.Index(actionURL, "token=")+len("token="):]

	t.Run("Success", func(t *testing.T) {
		body := fmt.Sprintf(`{"token": %q, "kind": "password_reset", "new_password": "Brand-New-Pass1"}`, value)
		rr := postJSON(apiInstance, "/actions/complete", body, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("ReplayIsGenericallyRejected", func(t *testing.T) {
		body := fmt.Sprintf(`{"token": %q, "kind": "password_reset", "new_password": "Another-Pass1"}`, value)
		rr := postJSON(apiInstance, "/actions/complete", body, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid or expired token")
		// The response must not explain which check failed
		assert.NotContains(t, strings.ToLower(rr.Body.String()), "consumed")
	})

	t.Run("UnknownToken", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/complete",
			`{"token": "tg_bogus", "kind": "password_reset", "new_password": "Another-Pass1"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid or expired token")
	})

	t.Run("WeakPassword", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/complete",
			`{"token": "tg_bogus", "kind": "password_reset", "new_password": "short"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("MissingToken", func(t *testing.T) {
		rr := postJSON(apiInstance, "/actions/complete",
			`{"kind": "password_reset", "new_password": "Another-Pass1"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestResendActionHandler(t *testing.T) {
	apiInstance, delivery, db := newTestApi(t)
	seedUser(t, db, "user@example.com")

	rr := postJSON(apiInstance, "/actions/resend",
		`{"email": "user@example.com", "kind": "password_reset"}`, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Empty(t, delivery.messages, "nothing outstanding, nothing sent")

	rr = postJSON(apiInstance, "/actions/request",
		`{"email": "user@example.com", "kind": "password_reset"}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = postJSON(apiInstance, "/actions/resend",
		`{"email": "user@example.com", "kind": "password_reset"}`, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, delivery.messages, 2)
	assert.Equal(t, delivery.messages[0].ActionURL, delivery.messages[1].ActionURL)
}

func TestInvalidateHandlerAuth(t *testing.T) {
	apiInstance, _, db := newTestApi(t)
	userID := seedUser(t, db, "user@example.com")

	body := fmt.Sprintf(`{"subject_id": %d, "kind": "password_reset"}`, userID)

	t.Run("NoAuthHeader", func(t *testing.T) {
		rr := postJSON(apiInstance, "/admin/invalidate", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		rr := postJSON(apiInstance, "/admin/invalidate", body,
			map[string]string{"Authorization": "Token abc"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("BadToken", func(t *testing.T) {
		rr := postJSON(apiInstance, "/admin/invalidate", body,
			map[string]string{"Authorization": "Bearer not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		serviceToken, err := apiInstance.tokens.Generate("ops-cli", 5*time.Minute)
		require.NoError(t, err)

		rr := postJSON(apiInstance, "/admin/invalidate", body,
			map[string]string{"Authorization": "Bearer " + serviceToken})
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestHeartbeat(t *testing.T) {
	apiInstance, _, _ := newTestApi(t)

	req := httptest.NewRequest("GET", "/heartbeat", nil)
	rr := httptest.NewRecorder()
	apiInstance.Router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	apiInstance, _, db := newTestApi(t)
	apiInstance.Config.Service.AdminSecret = ""
	userID := seedUser(t, db, "user@example.com")

	body := fmt.Sprintf(`{"subject_id": %d, "kind": "password_reset"}`, userID)
	rr := postJSON(apiInstance, "/admin/invalidate", body, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestInvalidateHandlerValidation(t *testing.T) {
	apiInstance, _, _ := newTestApi(t)

	serviceToken, err := apiInstance.tokens.Generate("ops-cli", 5*time.Minute)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + serviceToken}

	rr := postJSON(apiInstance, "/admin/invalidate", `{"subject_id": 0, "kind": "password_reset"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postJSON(apiInstance, "/admin/invalidate", `{"subject_id": 5, "kind": "mystery"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJSONDecoding(t *testing.T) {
	var req completeRequest
	err := json.Unmarshal([]byte(`{"token": "tg_x", "kind": "password_reset", "new_password": "Pass-Word1"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, "tg_x", req.Token)
	assert.Equal(t, "password_reset", req.Kind)
}
