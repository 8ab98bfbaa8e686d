package accounts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}

	r := gin.New()
	NewService(db, cfg, zerolog.Nop()).SetupRoutes(r)
	return r, db
}

func do(t *testing.T, r *gin.Engine, method, path, token string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func registerPayload() gin.H {
	return gin.H{
		"email":     "Player@Example.com",
		"username":  "player1",
		"password":  "longenough",
		"firstName": "Ann",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	r, db := newTestRouter(t)

	code, body := do(t, r, "POST", "/accounts/register", "", registerPayload())
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, body["token"])

	// Email is stored lowercased.
	var user models.User
	require.NoError(t, db.First(&user, "username = ?", "player1").Error)
	assert.Equal(t, "player@example.com", user.Email)
	assert.False(t, user.IsStaff)

	// Login by email.
	code, body = do(t, r, "POST", "/accounts/login", "", gin.H{
		"identifier": "player@example.com",
		"password":   "longenough",
	})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["token"])

	// Login by username.
	code, _ = do(t, r, "POST", "/accounts/login", "", gin.H{
		"identifier": "player1",
		"password":   "longenough",
	})
	assert.Equal(t, http.StatusOK, code)
}

func TestRegisterDuplicate(t *testing.T) {
	r, _ := newTestRouter(t)

	code, _ := do(t, r, "POST", "/accounts/register", "", registerPayload())
	require.Equal(t, http.StatusCreated, code)

	code, _ = do(t, r, "POST", "/accounts/register", "", registerPayload())
	assert.Equal(t, http.StatusConflict, code)
}

func TestRegisterShortPassword(t *testing.T) {
	r, _ := newTestRouter(t)

	payload := registerPayload()
	payload["password"] = "short"
	code, _ := do(t, r, "POST", "/accounts/register", "", payload)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLoginWrongPassword(t *testing.T) {
	r, _ := newTestRouter(t)

	do(t, r, "POST", "/accounts/register", "", registerPayload())

	code, _ := do(t, r, "POST", "/accounts/login", "", gin.H{
		"identifier": "player1",
		"password":   "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, r, "POST", "/accounts/login", "", gin.H{
		"identifier": "nobody",
		"password":   "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMeRequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/accounts/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeAndProfileUpdate(t *testing.T) {
	r, _ := newTestRouter(t)

	_, body := do(t, r, "POST", "/accounts/register", "", registerPayload())
	token := body["token"].(string)

	code, me := do(t, r, "GET", "/accounts/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "player1", me["username"])

	code, _ = do(t, r, "PUT", "/accounts/me", token, gin.H{
		"firstName": "Annabel",
		"lastName":  "Smith",
	})
	require.Equal(t, http.StatusOK, code)

	_, me = do(t, r, "GET", "/accounts/me", token, nil)
	assert.Equal(t, "Annabel", me["firstName"])
	assert.Equal(t, "Smith", me["lastName"])
}

func TestChangePassword(t *testing.T) {
	r, _ := newTestRouter(t)

	_, body := do(t, r, "POST", "/accounts/register", "", registerPayload())
	token := body["token"].(string)

	code, _ := do(t, r, "PUT", "/accounts/password", token, gin.H{
		"currentPassword": "wrong",
		"newPassword":     "evenlonger1",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, r, "PUT", "/accounts/password", token, gin.H{
		"currentPassword": "longenough",
		"newPassword":     "evenlonger1",
	})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, "POST", "/accounts/login", "", gin.H{
		"identifier": "player1",
		"password":   "evenlonger1",
	})
	assert.Equal(t, http.StatusOK, code)
}
