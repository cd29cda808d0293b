package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

const maxAuditBody = 2000

// AuditRecorder persists audit entries. *services.SystemLogService implements it.
type AuditRecorder interface {
	Record(ctx context.Context, entry services.AuditEntry) error
}

// routeActions names the settings mutations recorded in the audit trail.
var routeActions = map[string]string{
	"PATCH /api/settings":               "Update",
	"POST /api/settings/batch":          "Batch Update",
	"POST /api/settings/seed":           "Seed Defaults",
	"POST /api/settings/define":         "Define",
	"DELETE /api/settings/:module/:key": "Delete",
}

// AuditLog records write operations (POST/PATCH/PUT/DELETE) to system_logs.
func AuditLog(recorder AuditRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		// Only audit write operations
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		userID := GetUserID(c)
		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		var uid *uint
		if userID > 0 {
			uid = &userID
		}
		level := "info"
		if status >= 400 {
			level = "warning"
		}

		err := recorder.Record(context.WithoutCancel(c.Request.Context()), services.AuditEntry{
			Level:     level,
			Module:    module,
			Action:    action,
			Message:   formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status),
			UserID:    uid,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Extra: map[string]interface{}{
				"method":     method,
				"path":       c.Request.URL.Path,
				"status":     status,
				"body":       bodySnippet,
				"request_id": c.GetString(logger.RequestIDKey),
			},
		})
		if err != nil {
			logger.FromGin(c).Warn().Err(err).Msg("[Audit] Failed to record entry")
		}
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/settings/batch" + "POST" → module="settings", action="Batch Update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	parts := strings.SplitN(path, "/", 2)
	module = parts[0]
	if module == "" {
		module = "unknown"
	}

	if named, ok := routeActions[method+" "+fullPath]; ok {
		return module, named
	}
	switch method {
	case http.MethodPost:
		action = "Create"
	case http.MethodPut, http.MethodPatch:
		action = "Update"
	case http.MethodDelete:
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

// formatAuditMessage creates a human-readable audit message.
func formatAuditMessage(username, method, path string, status int) string {
	if username == "" {
		username = "anonymous"
	}
	var b strings.Builder
	b.WriteString(username)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	if status >= 200 && status < 300 {
		b.WriteString(" -> OK")
	} else {
		b.WriteString(" -> Failed")
	}
	return b.String()
}

var sensitiveWords = []string{"password", "api_key", "secret", "token", "access_token"}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// maskSensitiveFields replaces sensitive values in a request body. A JSON body
// is walked in full: fields whose name looks sensitive are masked, and so is
// the "value" of any {"key": ...} object whose key looks sensitive. Anything
// that does not parse falls back to masking by field name.
func maskSensitiveFields(body string) string {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err == nil && !dec.More() {
		if out, err := json.Marshal(maskValue(doc)); err == nil {
			return string(out)
		}
	}

	for _, key := range sensitiveWords {
		if strings.Contains(strings.ToLower(body), key) {
			body = maskJSONValue(body, key)
		}
	}
	return body
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if k, ok := t["key"].(string); ok && isSensitive(k) {
			if _, has := t["value"]; has {
				t["value"] = "***"
			}
		}
		for name, child := range t {
			if isSensitive(name) {
				t[name] = "***"
				continue
			}
			t[name] = maskValue(child)
		}
	case []any:
		for i := range t {
			t[i] = maskValue(t[i])
		}
	}
	return v
}

// maskJSONValue does a best-effort mask of the first JSON string value for key
func maskJSONValue(body, key string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(body) || body[valueStart] != '"' {
		return body
	}

	endQuote := strings.Index(body[valueStart+1:], "\"")
	if endQuote == -1 {
		return body
	}
	return body[:valueStart+1] + "***" + body[valueStart+1+endQuote:]
}
