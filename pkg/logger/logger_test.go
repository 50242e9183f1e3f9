package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWithJobAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("local", &buf)

	ctx := WithJob(With(context.Background(), l), "job-1")
	From(ctx).Info("claimed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["job_id"] != "job-1" {
		t.Fatalf("expected job_id attribute, got %v", line)
	}
}

func TestMiddlewareSetsRequestIDAndSkipsQuietPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)

	r := gin.New()
	r.Use(Middleware(l, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", func(c *gin.Context) {
		if FromGin(c) == nil {
			t.Errorf("expected request logger")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no log line for quiet path, got %s", buf.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)
	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected propagated request id")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request summary with request id, got %s", buf.String())
	}
}
