package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dripline/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func token(t *testing.T, userID, companyID uint) string {
	t.Helper()
	tok, err := utils.GenerateJWTToken(testSecret, userID, companyID, time.Hour)
	require.NoError(t, err)
	return tok
}

func protectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/whoami", Protected(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c), "company_id": CompanyID(c)})
	})
	return app
}

func TestProtected(t *testing.T) {
	expired, err := utils.GenerateJWTToken(testSecret, 1, 1, -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.GenerateJWTToken("another-secret", 1, 1, time.Hour)
	require.NoError(t, err)

	tests := map[string]struct {
		header    string
		cookie    string
		expStatus int
	}{
		"A valid bearer token is accepted.": {
			header:    "Bearer " + token(t, 7, 3),
			expStatus: http.StatusOK,
		},
		"A valid cookie token is accepted.": {
			cookie:    token(t, 7, 3),
			expStatus: http.StatusOK,
		},
		"A missing token is rejected.": {
			expStatus: http.StatusUnauthorized,
		},
		"A malformed header is rejected.": {
			header:    "Token abc",
			expStatus: http.StatusUnauthorized,
		},
		"An expired token is rejected.": {
			header:    "Bearer " + expired,
			expStatus: http.StatusUnauthorized,
		},
		"A token signed with another key is rejected.": {
			header:    "Bearer " + foreign,
			expStatus: http.StatusUnauthorized,
		},
		"A token without company is forbidden.": {
			header:    "Bearer " + token(t, 7, 0),
			expStatus: http.StatusForbidden,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}
			if test.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: test.cookie})
			}

			resp, err := protectedApp().Test(req)
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, resp.StatusCode)
		})
	}
}

func TestRedisStorage(t *testing.T) {
	require := require.New(t)

	mr := miniredis.RunT(t)
	s := NewRedisStorage(mr.Addr(), "", 0)
	defer s.Close()

	val, err := s.Get("missing")
	require.NoError(err)
	require.Nil(val)

	require.NoError(s.Set("k", []byte("v"), time.Minute))
	val, err = s.Get("k")
	require.NoError(err)
	require.Equal([]byte("v"), val)

	mr.FastForward(2 * time.Minute)
	val, err = s.Get("k")
	require.NoError(err)
	require.Nil(val)

	require.NoError(s.Set("a", []byte("1"), 0))
	require.NoError(s.Delete("a"))
	require.False(mr.Exists("a"))

	require.NoError(s.Set("b", []byte("1"), 0))
	require.NoError(s.Reset())
	require.False(mr.Exists("b"))
}

func TestRunNowRateLimiterIsPerCompany(t *testing.T) {
	mr := miniredis.RunT(t)
	storage := NewRedisStorage(mr.Addr(), "", 0)
	defer storage.Close()

	app := fiber.New()
	app.Post("/run", Protected(testSecret), RunNowRateLimiter(2, storage), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	call := func(companyID uint) int {
		req := httptest.NewRequest(http.MethodPost, "/run", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, 1, companyID))
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, call(1))
	assert.Equal(t, http.StatusAccepted, call(1))
	assert.Equal(t, http.StatusTooManyRequests, call(1))
	// Another company has its own budget.
	assert.Equal(t, http.StatusAccepted, call(2))

	assert.True(t, mr.Exists(utils.GenerateRateLimitKey(1, "/run")))
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins: []string{"https://app.acme.test"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         600,
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.acme.test")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.acme.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
