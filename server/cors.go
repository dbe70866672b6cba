package server

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	allowOriginHeader      = "Access-Control-Allow-Origin"
	allowHeadersHeader     = "Access-Control-Allow-Headers"
	allowMethodsHeader     = "Access-Control-Allow-Methods"
	requestMethodHeader    = "Access-Control-Request-Method"
	allowCredentialsHeader = "Access-Control-Allow-Credentials"
	exposeHeadersHeader    = "Access-Control-Expose-Headers"
	maxAgeHeader           = "Access-Control-Max-Age"
	headerSeparator        = ", "
)

// Cors controls the cross-origin headers emitted on every response. Browser
// clients on arbitrary origins need both the permissive allow set and the
// session header exposed so scripts can read it.
type Cors struct {
	AllowCredentials *bool    `toml:"allow_credentials" json:"allowCredentials,omitempty"`
	AllowHeaders     []string `toml:"allow_headers" json:"allowHeaders,omitempty"`
	AllowMethods     []string `toml:"allow_methods" json:"allowMethods,omitempty"`
	AllowOrigins     []string `toml:"allow_origins" json:"allowOrigins,omitempty"`
	ExposeHeaders    []string `toml:"expose_headers" json:"exposeHeaders,omitempty"`
	MaxAge           *int64   `toml:"max_age" json:"maxAge,omitempty"`
}

func (c *Cors) originMap() map[string]bool {
	var result = make(map[string]bool)
	for _, origin := range c.AllowOrigins {
		result[origin] = true
	}
	return result
}

// corsHandler sets CORS headers ahead of every endpoint and answers
// preflight requests directly.
type corsHandler struct {
	*Cors
}

func (h *corsHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Cors.setHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Cors) setHeaders(writer http.ResponseWriter, request *http.Request) {
	if c == nil {
		return
	}
	origin := request.Header.Get("Origin")
	allowedOrigins := c.originMap()
	if allowedOrigins["*"] {
		if origin == "" {
			writer.Header().Set(allowOriginHeader, "*")
		} else {
			writer.Header().Set(allowOriginHeader, origin)
		}
	} else {
		if origin != "" && allowedOrigins[origin] {
			writer.Header().Set(allowOriginHeader, origin)
		}
	}
	if c.AllowMethods != nil {
		writer.Header().Set(allowMethodsHeader, strings.Join(c.AllowMethods, headerSeparator))
	}
	if request.Method == http.MethodOptions {
		if requested := request.Header.Get(requestMethodHeader); requested != "" {
			writer.Header().Set(allowMethodsHeader, requested)
		}
	}
	if len(c.AllowHeaders) > 0 {
		allowedHeaders := strings.Join(c.AllowHeaders, headerSeparator)
		if allowedHeaders == "*" {
			allowedHeaders = "Content-Type, Authorization, Mcp-Session-Id, Last-Event-ID"
		}
		writer.Header().Set(allowHeadersHeader, allowedHeaders)
	}
	if c.AllowCredentials != nil {
		writer.Header().Set(allowCredentialsHeader, strconv.FormatBool(*c.AllowCredentials))
	}
	if c.MaxAge != nil {
		writer.Header().Set(maxAgeHeader, strconv.Itoa(int(*c.MaxAge)))
	}
	if len(c.ExposeHeaders) > 0 {
		exposedHeaders := strings.Join(c.ExposeHeaders, headerSeparator)
		if exposedHeaders == "*" {
			exposedHeaders = "Content-Type, Mcp-Session-Id"
		}
		writer.Header().Set(exposeHeadersHeader, exposedHeaders)
	}
}

func defaultCors() *Cors {
	return &Cors{
		AllowCredentials: &[]bool{true}[0],
		AllowHeaders:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowOrigins:     []string{"*"},
		ExposeHeaders:    []string{"*"},
	}
}
