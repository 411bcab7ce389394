package nfsedps

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/catalog"
	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/config"
	"github.com/rezonia/nfse-dps/internal/dps"
	"github.com/rezonia/nfse-dps/internal/logger"
	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/processor"
	"github.com/rezonia/nfse-dps/internal/response"
	"github.com/rezonia/nfse-dps/internal/signature"
	"github.com/rezonia/nfse-dps/internal/transport"
	"github.com/rezonia/nfse-dps/internal/validator"
)

// LoadConfig reads configuration from defaults, the YAML file at path and
// NFSE_* environment variables
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return config.Default()
}

// Client issues NFS-e. It is safe for concurrent use.
type Client struct {
	cfg       Config
	pipeline  *processor.Pipeline
	validator *validator.Validator
	builder   *dps.Builder
	gateway   *catalog.Gateway
	log       zerolog.Logger
	closers   []func() error
}

type clientOptions struct {
	logWriter  io.Writer
	httpClient *http.Client
	certs      certificate.Provider
	rootCAs    *x509.CertPool
	store      catalog.Store
}

// ClientOption adjusts how NewClient wires the client
type ClientOption func(*clientOptions)

// WithLogWriter sends component logs to w instead of stderr
func WithLogWriter(w io.Writer) ClientOption {
	return func(o *clientOptions) {
		o.logWriter = w
	}
}

// WithHTTPClient uses hc for the national API and the catalog.
// mTLS material from the configuration is then ignored by the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithCertificateProvider overrides the certificate named in the configuration
func WithCertificateProvider(p CertificateProvider) ClientOption {
	return func(o *clientOptions) {
		o.certs = p
	}
}

// WithRootCAs sets the pool used to verify the national API
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(o *clientOptions) {
		o.rootCAs = pool
	}
}

// WithCatalogStore overrides the catalog cache chosen from the configuration
func WithCatalogStore(s catalog.Store) ClientOption {
	return func(o *clientOptions) {
		o.store = s
	}
}

// NewClient validates cfg and wires every stage
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: o.logWriter})
	c := &Client{cfg: cfg, log: log}

	mode, err := signature.ParseMode(cfg.Signature.Mode)
	if err != nil {
		return nil, model.NewConfigError("signature.mode", err.Error())
	}

	certs := o.certs
	if certs == nil {
		certs = certificateProvider(cfg.Signature)
	}

	store := o.store
	if store == nil {
		store, err = c.catalogStore(cfg.Catalog)
		if err != nil {
			return nil, err
		}
	}
	gwOpts := []catalog.GatewayOption{
		catalog.WithTTL(cfg.Catalog.TTL),
		catalog.WithLogger(logger.Named(log, "catalog")),
	}
	if o.httpClient != nil {
		gwOpts = append(gwOpts, catalog.WithHTTPClient(o.httpClient))
	}
	c.gateway = catalog.NewGateway(cfg.CatalogURL(), store, gwOpts...)

	c.validator = validator.New(
		validator.WithMaxDescriptionLength(cfg.Validation.MaxDescriptionLength),
		validator.WithCatalog(c.gateway),
		validator.WithLogger(logger.Named(log, "validator")),
	)
	c.builder = dps.NewBuilder(
		dps.WithWrapped(cfg.DPS.Wrapped),
		dps.WithNamespace(cfg.DPS.Namespace),
		dps.WithAppVersion(cfg.DPS.AppVersion),
	)

	tOpts := []transport.ClientOption{
		transport.WithCertificate(certs),
		transport.WithLogger(logger.Named(log, "transport")),
	}
	if o.httpClient != nil {
		tOpts = append(tOpts, transport.WithHTTPClient(o.httpClient))
	}
	if o.rootCAs != nil {
		tOpts = append(tOpts, transport.WithRootCAs(o.rootCAs))
	}
	sender, err := transport.NewClient(transport.Config{
		BaseURL:      cfg.API.BaseURL,
		Ambiente:     cfg.API.Ambiente,
		Timeout:      cfg.API.Timeout,
		Paths:        cfg.API.Endpoints,
		BearerToken:  cfg.API.BearerToken,
		APIKey:       cfg.API.APIKey,
		TempDir:      cfg.TempDir,
		Debug:        cfg.Debug.Enabled,
		DebugLogPath: cfg.Debug.LogPath,
	}, tOpts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.pipeline = processor.NewPipeline(
		processor.WithValidator(c.validator),
		processor.WithBuilder(c.builder),
		processor.WithSignatureStage(signature.NewStage(signature.WithLogger(logger.Named(log, "signature")))),
		processor.WithSignatureMode(mode),
		processor.WithCertificate(certs),
		processor.WithSender(sender),
		processor.WithInterpreter(response.New(response.WithLogger(logger.Named(log, "response")))),
		processor.WithCatalogCheck(cfg.Validation.CheckCatalog),
		processor.WithLogger(logger.Named(log, "pipeline")),
	)

	c.log.Debug().
		Str("base_url", sender.BaseURL()).
		Str("catalog_url", cfg.CatalogURL()).
		Str("signature_mode", mode.String()).
		Msg("client ready")
	return c, nil
}

func certificateProvider(s config.Signature) certificate.Provider {
	switch {
	case s.PFXFile != "":
		return certificate.NewPKCS12Provider(s.PFXFile, s.PFXPassword)
	case s.CertFile != "":
		return certificate.NewFileProvider(s.CertFile, s.KeyFile)
	default:
		return certificate.NewStaticProvider(nil)
	}
}

func (c *Client) catalogStore(cc config.Catalog) (catalog.Store, error) {
	switch {
	case cc.RedisURL != "":
		rdb, err := catalog.ConnectRedis(cc.RedisURL)
		if err != nil {
			return nil, model.NewConfigError("catalog.redis_url", err.Error())
		}
		c.closers = append(c.closers, rdb.Close)
		return catalog.NewRedisStore(rdb, ""), nil
	case cc.CacheDir != "":
		fs, err := catalog.NewFileStore(cc.CacheDir)
		if err != nil {
			return nil, model.NewConfigError("catalog.cache_dir", err.Error())
		}
		return fs, nil
	default:
		return catalog.NewMemoryStore(), nil
	}
}

// Close releases connections held by the catalog cache
func (c *Client) Close() error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Validate checks req, consulting the catalog when enabled in the configuration
func (c *Client) Validate(ctx context.Context, req *DpsRequest) *ValidationOutcome {
	return c.validator.ValidateAgainstCatalog(ctx, req, c.cfg.Validation.CheckCatalog)
}

// Prepare validates, builds and signs req without sending it
func (c *Client) Prepare(ctx context.Context, req *DpsRequest) *Result {
	return c.pipeline.Prepare(ctx, req)
}

// Emit runs the whole issuance flow for req
func (c *Client) Emit(ctx context.Context, req *DpsRequest) *Result {
	return c.pipeline.Emit(ctx, req)
}

// QueryByKey looks up an issued NFS-e
func (c *Client) QueryByKey(ctx context.Context, key string) *Result {
	return c.pipeline.QueryByKey(ctx, key)
}

// QueryByDPS looks up the NFS-e issued for a DPS identifier
func (c *Client) QueryByDPS(ctx context.Context, id string) *Result {
	return c.pipeline.QueryByDPS(ctx, id)
}

// Cancel registers a cancellation event
func (c *Client) Cancel(ctx context.Context, r CancelRequest) *Result {
	return c.pipeline.Cancel(ctx, r)
}

// DownloadXML fetches the XML of an issued NFS-e
func (c *Client) DownloadXML(ctx context.Context, key string) *Result {
	return c.pipeline.DownloadXML(ctx, key)
}

// DownloadDANFSe fetches the rendered document link of an issued NFS-e
func (c *Client) DownloadDANFSe(ctx context.Context, key string) *Result {
	return c.pipeline.DownloadDANFSe(ctx, key)
}

// Submit sends a prepared document for any operation
func (c *Client) Submit(ctx context.Context, op Operation, xml []byte) *Result {
	return c.pipeline.Submit(ctx, op, xml)
}

// AliquotParametrization returns the catalog answer for a municipality,
// service and competence
func (c *Client) AliquotParametrization(ctx context.Context, location, service, competence string, force bool) (*CatalogLookup, error) {
	return c.gateway.GetAliquotParametrization(ctx, location, service, competence, force)
}

// MunicipalAgreement returns the catalog agreement data for a municipality
func (c *Client) MunicipalAgreement(ctx context.Context, location string, force bool) (*CatalogLookup, error) {
	return c.gateway.GetMunicipalAgreement(ctx, location, force)
}

// Municipalities lists the municipalities known to the catalog
func (c *Client) Municipalities(ctx context.Context, force bool) (*CatalogLookup, error) {
	return c.gateway.ListMunicipalities(ctx, force)
}

// VerifySignature checks a signed DPS, receipt or event against trusted certificates
func VerifySignature(xml []byte, trusted []*x509.Certificate) (*SignatureResult, error) {
	return signature.Verify(xml, trusted)
}

// Re-export operations
const (
	OpEmit           = transport.OpEmit
	OpQueryByKey     = transport.OpQueryByKey
	OpCancel         = transport.OpCancel
	OpReplace        = transport.OpReplace
	OpQueryByDPS     = transport.OpQueryByDPS
	OpQueryByBatch   = transport.OpQueryByBatch
	OpDownloadXML    = transport.OpDownloadXML
	OpDownloadDANFSe = transport.OpDownloadDANFSe
)
