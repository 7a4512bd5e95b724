package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout is used when RunConfig leaves ShutdownTimeout unset.
const DefaultShutdownTimeout = 10 * time.Second

// ErrIncompleteTLS is returned when only one of the certificate and key is set.
var ErrIncompleteTLS = errors.New("tls needs both a certificate and a key")

// TLSConfig names the certificate and key for the API listener. Both empty
// serves plain HTTP.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c TLSConfig) validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrIncompleteTLS
	}
	return nil
}

// RunConfig describes the API server to run.
type RunConfig struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	// Ready receives the bound address, which differs from Server.Addr when
	// it asks for port 0.
	Ready func(net.Addr)
}

// Run serves the control API until ctx ends and then drains in-flight
// requests for at most ShutdownTimeout. Websocket streams are hijacked and
// are not waited for; they close when their subscriptions do.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Server == nil {
		return errors.New("run api: server is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("run api: %w", err)
	}

	ln, err := listen(cfg.Server, cfg.TLS)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}

	served := make(chan error, 1)
	go func() {
		served <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-served:
		return serveResult(err)
	case <-ctx.Done():
	}
	return shutdown(cfg.Server, served, cfg.ShutdownTimeout)
}

// listen opens the TCP listener, wrapped in TLS when configured. The
// certificate is prepended to any the server already carries.
func listen(server *http.Server, tlsFiles TLSConfig) (net.Listener, error) {
	var certs []tls.Certificate
	if tlsFiles.enabled() {
		cert, err := tls.LoadX509KeyPair(tlsFiles.CertFile, tlsFiles.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load api certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	if len(certs) == 0 {
		return ln, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if server.TLSConfig != nil {
		tlsCfg = server.TLSConfig.Clone()
	}
	tlsCfg.Certificates = append(certs, tlsCfg.Certificates...)
	server.TLSConfig = tlsCfg
	return tls.NewListener(ln, tlsCfg), nil
}

func shutdown(server *http.Server, served <-chan error, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)
	select {
	case err := <-served:
		if err := serveResult(err); err != nil {
			return err
		}
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}
	if shutdownErr != nil {
		return fmt.Errorf("shut down api: %w", shutdownErr)
	}
	return nil
}

// serveResult maps the normal end of Serve to nil.
func serveResult(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("serve api: %w", err)
}
