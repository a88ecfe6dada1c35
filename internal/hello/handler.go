// Package hello implements the request handler shared by every listener: it
// logs the exchange and answers with a fixed plain-text body.
package hello

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Body is the response payload for every request.
const Body = "Hello World\n"

var body = []byte(Body)

// Handler returns a gin handler answering any request with 200 and Body.
// protocol is the label of the listener the handler is mounted on.
func Handler(protocol string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		host, port := SplitPeer(r.RemoteAddr)
		target := r.URL.RequestURI()

		logger.Info(fmt.Sprintf("[%s] (%s,%s) %s %s", protocol, host, port, r.Method, target),
			zap.String("protocol", protocol),
			zap.String("peer_address", host),
			zap.String("peer_port", port),
			zap.String("method", r.Method),
			zap.String("path", target),
			zap.String("request_id", uuid.NewString()),
		)

		c.Header("Content-Length", strconv.Itoa(len(body)))
		c.Data(http.StatusOK, "text/plain", body)
	}
}

// SplitPeer splits a RemoteAddr into address and port. An address that cannot
// be split is returned whole with an empty port.
func SplitPeer(remoteAddr string) (host, port string) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, ""
	}
	return host, port
}

// Option customises the router built by NewRouter
type Option func(*gin.Engine)

// WithMiddleware installs handlers that run before the hello handler
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(e *gin.Engine) {
		e.Use(mw...)
	}
}

// NewRouter builds an engine that routes every method and path to Handler.
// The caller selects the gin mode.
func NewRouter(protocol string, logger *zap.Logger, opts ...Option) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	for _, opt := range opts {
		opt(router)
	}

	h := Handler(protocol, logger)
	router.NoRoute(h)
	router.NoMethod(h)
	return router
}
