package debugserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
)

// Proxy forwards WebDriver traffic to an upstream endpoint, passing every
// request through a Server first.
type Proxy struct {
	server  *Server
	reverse *httputil.ReverseProxy
	logger  zerolog.Logger
}

// NewProxy creates a proxy to upstream.
func NewProxy(upstream *url.URL, server *Server, logger zerolog.Logger) *Proxy {
	rp := httputil.NewSingleHostReverseProxy(upstream)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("webdriver upstream failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}

	return &Proxy{
		server:  server,
		reverse: rp,
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := p.server.Intercept(r); err != nil {
		p.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("webdriver command not forwarded")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	p.reverse.ServeHTTP(w, r)
}
