// Commons for HTTP handling
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/stateshift/rollup-httpd/libs/log"
)

// Listen starts a new net.Listener on the given address, which must be
// fully formed including the tcp:// or unix:// prefix. When
// maxOpenConnections is greater than zero, the listener accepts at most
// that many simultaneous connections.
func Listen(addr string, maxOpenConnections int) (net.Listener, error) {
	parts := strings.SplitN(addr, "://", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf(
			"invalid listening address %s (use fully formed addresses, including the tcp:// or unix:// prefix)",
			addr,
		)
	}

	proto, addr := parts[0], parts[1]
	listener, err := net.Listen(proto, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %v: %w", proto, addr, err)
	}

	if maxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, maxOpenConnections)
	}

	return listener, nil
}

// Serve creates a http.Server and calls Serve with the given listener,
// wrapping the handler in panic recovery and request logging. It returns
// when the listener closes or the context terminates.
//
// The server deliberately runs without a write timeout: a /finish response
// legitimately takes arbitrarily long, since that transaction parks until
// the node delivers the next rollup request.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger log.Logger) error {
	logger.Info("serving HTTP", "listen_addr", listener.Addr().String())

	s := &http.Server{
		Handler:           RecoverAndLogHandler(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sig := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.Shutdown(sctx)
		case <-sig:
		}
	}()

	err := s.Serve(listener)
	logger.Info("HTTP server stopped", "err", err)
	close(sig)
	return err
}

// RecoverAndLogHandler wraps an HTTP handler, adding error logging. If the
// inner handler panics, the outer handler recovers and sends a 500 error
// response.
func RecoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrap the ResponseWriter to remember the status
		rww := &responseWriterWrapper{-1, w}
		begin := time.Now()

		defer func() {
			// Send a 500 error if a panic happens during a handler.
			if e := recover(); e != nil {
				logger.Error("panic in HTTP handler", "error", e, "stack", string(debug.Stack()))
				rww.WriteHeader(http.StatusInternalServerError)
			}

			durationMS := time.Since(begin).Nanoseconds() / 1000000
			if rww.Status == -1 {
				rww.Status = 200
			}
			logger.Debug("served HTTP response",
				"method", r.Method,
				"url", r.URL,
				"status", rww.Status,
				"duration", durationMS,
				"remoteAddr", r.RemoteAddr,
			)
		}()

		handler.ServeHTTP(rww, r)
	})
}

// Remember the status for logging
type responseWriterWrapper struct {
	Status int
	http.ResponseWriter
}

func (w *responseWriterWrapper) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// implements http.Hijacker
func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}
