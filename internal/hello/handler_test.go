package hello

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestRouter_AnyMethodAnyPath(t *testing.T) {
	router := NewRouter("http", zap.NewNop())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/foo/bar"},
		{http.MethodPut, "/x"},
		{http.MethodDelete, "/a/b/c/"},
		{http.MethodPatch, "/lol?q=1"},
		{http.MethodOptions, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
			assert.Equal(t, "12", w.Header().Get("Content-Length"))
			assert.Equal(t, "Hello World\n", w.Body.String())
		})
	}
}

func TestHandler_LogsRequestLine(t *testing.T) {
	logger, logs := observedLogger()
	router := NewRouter("https", logger)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/foo/bar?x=1", nil)
	req.RemoteAddr = "[::1]:51234"
	router.ServeHTTP(w, req)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "[https] (::1,51234) POST /foo/bar?x=1", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "https", fields["protocol"])
	assert.Equal(t, "::1", fields["peer_address"])
	assert.Equal(t, "51234", fields["peer_port"])
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "/foo/bar?x=1", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestHandler_OneLogLinePerRequest(t *testing.T) {
	logger, logs := observedLogger()
	router := NewRouter("http", logger)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 3, logs.FilterMessageSnippet("[http] (192.0.2.1,1234) GET /").Len())
}

func TestHandler_Idempotent(t *testing.T) {
	router := NewRouter("http", zap.NewNop())

	var bodies []string
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/same", nil))
		b, err := io.ReadAll(w.Result().Body)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, bodies[0], bodies[1])
}

func TestWithMiddleware_RunsBeforeHandler(t *testing.T) {
	var called bool
	mw := func(c *gin.Context) {
		called = true
		c.Next()
	}
	router := NewRouter("http", zap.NewNop(), WithMiddleware(mw))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, Body, w.Body.String())
}

func TestSplitPeer(t *testing.T) {
	tests := []struct {
		remote   string
		wantHost string
		wantPort string
	}{
		{"127.0.0.1:8000", "127.0.0.1", "8000"},
		{"[::1]:4430", "::1", "4430"},
		{"@", "@", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		host, port := SplitPeer(tt.remote)
		assert.Equal(t, tt.wantHost, host, tt.remote)
		assert.Equal(t, tt.wantPort, port, tt.remote)
	}
}
