// Package sefintest is an in-process fake of the national NFS-e API used to
// exercise the transport and the pipeline end to end.
package sefintest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"

	"github.com/rezonia/nfse-dps/internal/envelope"
	"github.com/rezonia/nfse-dps/internal/signature"
)

// Config holds fake server configuration
type Config struct {
	// Trusted, when set, makes signed documents verify against these roots
	Trusted []*x509.Certificate
	// RequireSignature rejects unsigned DPS and events
	RequireSignature bool
	// APIKey, when set, must match the X-API-Key header
	APIKey string
	// FirstNumber is the number given to the first NFS-e
	FirstNumber int
	Debug       bool
	Now         func() time.Time
}

// Server is the fake API
type Server struct {
	config *Config
	router *gin.Engine

	mu       sync.Mutex
	next     int
	byKey    map[string]*Issued
	byDps    map[string]*Issued
	requests []Request
	failures []failure
}

type failure struct {
	status int
	body   string
}

// NewServer creates a fake API
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.FirstNumber <= 0 {
		config.FirstNumber = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config: config,
		router: router,
		next:   config.FirstNumber,
		byKey:  make(map[string]*Issued),
		byDps:  make(map[string]*Issued),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/")
	api.Use(s.record(), s.injectFailures(), s.checkAPIKey())
	{
		api.POST("/nfse", s.handleEmit)
		api.POST("/nfse/consulta", s.handleQueryByKey)
		api.POST("/nfse/cancelamento", s.handleCancel)
		api.POST("/nfse/substituicao", s.handleReplace)
		api.POST("/dps/consulta", s.handleQueryByDPS)
		api.POST("/lote/consulta", s.handleQueryByBatch)
		api.POST("/nfse/xml", s.handleDownloadXML)
		api.POST("/danfse", s.handleDANFSe)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartTLS serves the fake over HTTPS, asking for (but not verifying) a
// client certificate. Close the returned server when done.
func (s *Server) StartTLS() *httptest.Server {
	srv := httptest.NewUnstartedServer(s.router)
	srv.TLS = &tls.Config{ClientAuth: tls.RequestClientCert}
	srv.StartTLS()
	return srv
}

// FailNext makes the next API call answer status with body
func (s *Server) FailNext(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, body: body})
}

// Requests returns the calls received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Lookup returns the NFS-e issued under key
func (s *Server) Lookup(key string) (Issued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byKey[key]
	if !ok {
		return Issued{}, false
	}
	return *n, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   s.config.Now().UTC().Format(time.RFC3339),
	})
}

// record decodes the body once and keeps it for handlers and assertions
func (s *Server) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("E0001", "failed to read request body"))
			return
		}

		req := Request{
			Method:      c.Request.Method,
			Path:        c.Request.URL.Path,
			ContentType: c.ContentType(),
			Auth:        c.GetHeader("Authorization"),
			APIKey:      c.GetHeader("X-API-Key"),
		}
		if c.Request.TLS != nil {
			req.ClientCerts = len(c.Request.TLS.PeerCertificates)
		}
		req.XML = decodeBody(req.ContentType, body)

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		c.Set("xml", req.XML)
		c.Set("raw", body)
		c.Next()
	}
}

// decodeBody unwraps the DPS from the emit JSON or the raw envelope
func decodeBody(contentType string, body []byte) []byte {
	encoded := string(body)
	if contentType == "application/json" {
		var req EmitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil
		}
		encoded = req.DpsXMLGZipB64
	}
	xml, err := envelope.Decode(encoded)
	if err != nil {
		return nil
	}
	return xml
}

func (s *Server) injectFailures() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		var f *failure
		if len(s.failures) > 0 {
			f = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if f != nil {
			c.Data(f.status, "text/plain; charset=utf-8", []byte(f.body))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) checkAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.APIKey != "" && c.GetHeader("X-API-Key") != s.config.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid API key"})
			return
		}
		c.Next()
	}
}

// checkSignature applies RequireSignature and Trusted to a document
func (s *Server) checkSignature(xml []byte) *ErrorResponse {
	signed := signature.HasSignature(xml)
	if !signed {
		if s.config.RequireSignature {
			e := errorBody("E0714", "documento sem assinatura")
			return &e
		}
		return nil
	}
	if len(s.config.Trusted) == 0 {
		return nil
	}
	if _, err := signature.Verify(xml, s.config.Trusted); err != nil {
		e := errorBody("E0715", fmt.Sprintf("assinatura invalida: %v", err))
		return &e
	}
	return nil
}

func parseDocument(xml []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	data := xml
	if i := strings.Index(string(data), "?>"); strings.HasPrefix(string(data), "<?xml") && i >= 0 {
		data = data[i+2:]
	}
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return doc, nil
}
