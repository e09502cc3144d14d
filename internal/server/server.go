package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/handlers"
	"github.com/uptrace/bunrouter"
	"golang.org/x/crypto/acme/autocert"
)

// Options defines server parameters
type Options struct {
	Base          string   // base URL path
	Address       string   // listen address, e.g. :8080
	LimiterPeriod string   // limiter rate, e.g. 100-S
	ServerCrt     string   // server certificate
	ServerKey     string   // server certificate key
	DomainNames   []string // LetsEncrypt domain names
	Verbose       int
}

// Router sets up server routes with logging and limiter middlewares
func Router(h *handlers.Handler, opts Options) (http.Handler, error) {
	lmw, err := newLimiter(opts.LimiterPeriod)
	if err != nil {
		return nil, err
	}
	router := bunrouter.New(
		bunrouter.Use(loggingMiddleware),
		bunrouter.Use(limitMiddleware(lmw, opts.Verbose)),
	).Compat()

	base := opts.Base
	router.GET(base+"/", h.Index)
	if base != "" {
		router.GET(base, h.Index)
	}
	router.POST(base+"/predict", h.Predict)
	router.GET(base+"/records", h.Records)
	router.GET(base+"/health", h.Health)
	router.GET(base+"/labels", h.Labels)
	router.GET(base+"/docs", h.Docs)

	return enableCORS(router), nil
}

// LetsEncryptServer provides HTTPs server with Let's encrypt for
// given domain names (hosts)
func LetsEncryptServer(handler http.Handler, hosts ...string) *http.Server {
	certManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(hosts...),
		Cache:      autocert.DirCache("certs"),
	}
	tlsConfig := &tls.Config{
		GetCertificate: certManager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	server := &http.Server{
		Addr:              ":https",
		TLSConfig:         tlsConfig,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// cert manager answers ACME http-01 challenges
	go http.ListenAndServe(":http", certManager.HTTPHandler(nil))
	return server
}

// Serve starts HTTP or HTTPs server and blocks until ctx is done
func Serve(ctx context.Context, handler http.Handler, opts Options) error {
	var server *http.Server
	var listen func() error
	switch {
	case len(opts.DomainNames) > 0:
		server = LetsEncryptServer(handler, opts.DomainNames...)
		log.Println("Start HTTPs server with LetsEncrypt", opts.DomainNames)
		listen = func() error { return server.ListenAndServeTLS("", "") }
	case opts.ServerCrt != "" && opts.ServerKey != "":
		server = &http.Server{
			Addr:              opts.Address,
			TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Printf("Start HTTPs server with %s and %s on %s", opts.ServerCrt, opts.ServerKey, opts.Address)
		listen = func() error { return server.ListenAndServeTLS(opts.ServerCrt, opts.ServerKey) }
	default:
		server = &http.Server{
			Addr:              opts.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Printf("Start HTTP server on %s", opts.Address)
		listen = server.ListenAndServe
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
