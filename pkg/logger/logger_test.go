package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Init(Options{Level: level, Format: format, Output: buf})
	t.Cleanup(func() { Init(Options{}) })
	return buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestInit_Levels(t *testing.T) {
	capture(t, "verbose", "")
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	capture(t, "WARN", "")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	capture(t, "", "")
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestInit_Format(t *testing.T) {
	buf := capture(t, "debug", "")
	Debug().Str("module", "general").Msg("console by default at debug")
	assert.NotContains(t, buf.String(), `"module":"general"`)
	assert.Contains(t, buf.String(), "module=general")

	buf = capture(t, "debug", "json")
	Debug().Str("module", "general").Msg("json when asked")
	assert.Contains(t, buf.String(), `"module":"general"`)
}

func settingsRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(RequestIDKey, "req-42")
		c.Next()
	})
	r.Use(GinLogger("/health"), GinRecovery())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/settings/:module/:key", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.PATCH("/api/settings", func(c *gin.Context) {
		FromGin(c).Error().Msg("update failed")
		c.Status(http.StatusInternalServerError)
	})
	r.POST("/api/settings/seed", func(c *gin.Context) { panic("seed exploded") })
	return r
}

func TestGinLogger_RequestLine(t *testing.T) {
	buf := capture(t, "info", "json")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/settings/general/missing?x=1", nil)
	settingsRouter().ServeHTTP(w, req)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "req-42", got[0]["request_id"])
	assert.Equal(t, "/api/settings/:module/:key", got[0]["route"])
	assert.Equal(t, "/api/settings/general/missing", got[0]["path"])
	assert.Equal(t, "x=1", got[0]["query"])
	assert.EqualValues(t, 404, got[0]["status"])
}

func TestGinLogger_SkipsHealth(t *testing.T) {
	buf := capture(t, "info", "json")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	settingsRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, buf.String())
}

func TestFromGin_TagsRequest(t *testing.T) {
	buf := capture(t, "info", "json")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PATCH", "/api/settings", nil)
	settingsRouter().ServeHTTP(w, req)

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "update failed", got[0]["message"])
	assert.Equal(t, "req-42", got[0]["request_id"])
	assert.Equal(t, "PATCH", got[0]["method"])
	assert.Equal(t, "error", got[1]["level"])
}

func TestGinRecovery_ReturnsJSON(t *testing.T) {
	buf := capture(t, "info", "json")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/settings/seed", nil)
	settingsRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal server error"}`, w.Body.String())
	assert.Contains(t, buf.String(), "seed exploded")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}

func TestGormWriter_IgnoresLevel(t *testing.T) {
	buf := capture(t, "error", "json")
	GormWriter().Printf("%s [%.3fms] %s\n", "slow query", 250.0, "SELECT * FROM system_configs")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "gorm", got[0]["component"])
	assert.Equal(t, "slow query [250.000ms] SELECT * FROM system_configs", got[0]["message"])
}
