// Package server binds the configured listeners and runs one http.Server per
// listener. Listeners are independent: each has its own accept loop, and
// net/http serves every connection on its own goroutine, so a stalled
// exchange on one listener never holds up another.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

// HandlerFactory returns the handler for listeners of the given protocol
type HandlerFactory func(p Protocol) http.Handler

// Observer is notified when listeners are bound and closed
type Observer interface {
	ListenerUp(protocol string)
	ListenerDown(protocol string)
}

// Options holds per-server settings shared by all listeners.
// Zero timeouts mean no timeout, as with a bare http.Server.
type Options struct {
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// HTTP2 enables h2 negotiation on https listeners
	HTTP2 bool

	Observer Observer
}

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("listener set already started")

// ErrNoListener is returned by URL for an index with no bound listener
var ErrNoListener = errors.New("no such listener")

// ListenerSet owns a fixed set of listeners for the lifetime of the process
type ListenerSet struct {
	specs     []Spec
	tlsConfig *tls.Config
	handlers  HandlerFactory
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	bound   []*boundListener
	group   errgroup.Group
}

type boundListener struct {
	spec Spec
	ln   net.Listener
	srv  *http.Server
}

// NewListenerSet creates a set for specs. tlsConfig may be nil when no spec is https.
func NewListenerSet(specs []Spec, tlsConfig *tls.Config, handlers HandlerFactory, opts Options, logger *zap.Logger) *ListenerSet {
	return &ListenerSet{
		specs:     specs,
		tlsConfig: tlsConfig,
		handlers:  handlers,
		opts:      opts,
		logger:    logger,
	}
}

// Start binds every listener and then starts serving. Binding happens before
// any listener serves, so a failure leaves nothing running.
func (s *ListenerSet) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	bound := make([]*boundListener, 0, len(s.specs))
	closeAll := func() {
		for _, b := range bound {
			_ = b.ln.Close()
		}
	}

	for _, spec := range s.specs {
		srv, err := s.newServer(spec)
		if err != nil {
			closeAll()
			return fmt.Errorf("listener %s: %w", spec, err)
		}

		ln, err := lc.Listen(ctx, spec.Network(), spec.HostPort())
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to listen %s: %w", spec, err)
		}
		bound = append(bound, &boundListener{spec: spec, ln: ln, srv: srv})
	}

	for _, b := range bound {
		b := b
		port := b.spec.Port
		if tcp, ok := b.ln.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		s.logger.Info(fmt.Sprintf("listening (%s, %s, %d)", b.spec.Protocol, b.spec.Address, port),
			zap.String("protocol", string(b.spec.Protocol)),
			zap.String("address", b.spec.Address),
			zap.Int("port", port),
		)
		if s.opts.Observer != nil {
			s.opts.Observer.ListenerUp(string(b.spec.Protocol))
		}

		s.group.Go(func() error {
			defer func() {
				if s.opts.Observer != nil {
					s.opts.Observer.ListenerDown(string(b.spec.Protocol))
				}
			}()

			var err error
			if b.spec.Protocol == ProtocolHTTPS {
				// certificates come from srv.TLSConfig
				err = b.srv.ServeTLS(b.ln, "", "")
			} else {
				err = b.srv.Serve(b.ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("listener stopped",
					zap.String("listener", b.spec.String()),
					zap.Error(err))
				return fmt.Errorf("serve %s: %w", b.spec, err)
			}
			return nil
		})
	}

	s.bound = bound
	s.started = true
	return nil
}

// newServer builds the http.Server for one listener
func (s *ListenerSet) newServer(spec Spec) (*http.Server, error) {
	// OPTIONS * goes to the handler like any other request
	srv := &http.Server{
		Handler:                      s.handlers(spec.Protocol),
		ReadTimeout:                  s.opts.ReadTimeout,
		ReadHeaderTimeout:            s.opts.ReadHeaderTimeout,
		WriteTimeout:                 s.opts.WriteTimeout,
		IdleTimeout:                  s.opts.IdleTimeout,
		DisableGeneralOptionsHandler: true,
	}

	// transport errors (handshake failures, resets) are absorbed by net/http; surface them at warn
	if errLog, err := zap.NewStdLogAt(s.logger.With(zap.String("listener", spec.String())), zap.WarnLevel); err == nil {
		srv.ErrorLog = errLog
	}

	switch spec.Protocol {
	case ProtocolHTTP:
	case ProtocolHTTPS:
		if s.tlsConfig == nil {
			return nil, fmt.Errorf("https listener requires TLS material")
		}
		srv.TLSConfig = s.tlsConfig.Clone()
		if s.opts.HTTP2 {
			if err := http2.ConfigureServer(srv, &http2.Server{IdleTimeout: s.opts.IdleTimeout}); err != nil {
				return nil, fmt.Errorf("failed to configure http2: %w", err)
			}
		} else {
			// a non-nil empty map keeps net/http from enabling h2 on its own
			srv.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
		}
	default:
		return nil, fmt.Errorf("unknown protocol %q", spec.Protocol)
	}

	return srv, nil
}

// Wait blocks until every listener has stopped and returns the first serve error
func (s *ListenerSet) Wait() error {
	return s.group.Wait()
}

// Shutdown gracefully shuts down all servers
func (s *ListenerSet) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()

	var errs []error
	for _, b := range bound {
		if err := b.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", b.spec, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Addrs returns the bound address of every listener, in spec order
func (s *ListenerSet) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]net.Addr, 0, len(s.bound))
	for _, b := range s.bound {
		addrs = append(addrs, b.ln.Addr())
	}
	return addrs
}

// URL returns the base URL of listener i, e.g. https://[::1]:4430
func (s *ListenerSet) URL(i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.bound) {
		return "", fmt.Errorf("%w: %d of %d", ErrNoListener, i, len(s.bound))
	}
	b := s.bound[i]
	port := strconv.Itoa(b.spec.Port)
	if tcp, ok := b.ln.Addr().(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	return fmt.Sprintf("%s://%s", b.spec.Protocol, net.JoinHostPort(b.spec.Address, port)), nil
}
