package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(m *Metrics, protocol string, status int) *gin.Engine {
	router := gin.New()
	router.Use(m.Middleware(protocol))
	router.NoRoute(func(c *gin.Context) {
		c.String(status, "x")
	})
	return router
}

func TestMiddleware_CountsRequests(t *testing.T) {
	m := New(prometheus.NewRegistry())
	router := newRouter(m, "https", http.StatusOK)

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/foo", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("https", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("https", "POST", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RateLimitRejectedTotal.WithLabelValues("https")))
}

func TestMiddleware_CountsRejections(t *testing.T) {
	m := New(prometheus.NewRegistry())
	router := newRouter(m, "http", http.StatusTooManyRequests)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejectedTotal.WithLabelValues("http")))
}

func TestListenerGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ListenerUp("http")
	m.ListenerUp("http")
	m.ListenerUp("https")
	m.ListenerDown("http")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenersActive.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenersActive.WithLabelValues("https")))
}

func TestHandler_Exposition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ListenerUp("http")
	m.RequestsTotal.WithLabelValues("http", "GET", "200").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `hello_requests_total{code="200",method="GET",protocol="http"} 1`)
	assert.Contains(t, string(body), `hello_listeners_active{protocol="http"} 1`)
}
