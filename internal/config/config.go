// Package config binds command-line flags, environment variables and .env
// files into the service configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment variable, e.g. ASSETDESK_HTTP_ADDR.
const EnvPrefix = "ASSETDESK"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Flag names.
const (
	FlagHTTPAddr        = "http-addr"
	FlagGRPCAddr        = "grpc-addr"
	FlagStore           = "store"
	FlagPGDSN           = "pg-dsn"
	FlagMongoURI        = "mongo-uri"
	FlagMongoDatabase   = "mongo-database"
	FlagAuthSecret      = "auth-secret"
	FlagRateBurst       = "rate-burst"
	FlagRatePerSec      = "rate-per-sec"
	FlagMaxBodyBytes    = "max-body-bytes"
	FlagCORSOrigins     = "cors-origins"
	FlagTrustedProxies  = "trusted-proxies"
	FlagLogLevel        = "log-level"
	FlagShutdownTimeout = "shutdown-timeout"
)

// Opt is a single command-line option.
type Opt struct {
	Flag    string
	Default interface{}
	Desc    string
}

// ServerOptions are the options of the API server.
func ServerOptions() []Opt {
	return []Opt{
		{Flag: FlagHTTPAddr, Default: ":8080", Desc: "HTTP listen address"},
		{Flag: FlagGRPCAddr, Default: ":9090", Desc: "gRPC health listen address; empty disables it"},
		{Flag: FlagStore, Default: StoreMemory, Desc: "storage backend: memory, postgres or mongo"},
		{Flag: FlagPGDSN, Default: "", Desc: "PostgreSQL DSN"},
		{Flag: FlagMongoURI, Default: "", Desc: "MongoDB connection URI"},
		{Flag: FlagMongoDatabase, Default: "assetdesk", Desc: "MongoDB database name"},
		{Flag: FlagAuthSecret, Default: "", Desc: "HMAC secret used to sign bearer tokens"},
		{Flag: FlagRateBurst, Default: 40, Desc: "per-client request burst"},
		{Flag: FlagRatePerSec, Default: 20.0, Desc: "per-client sustained requests per second"},
		{Flag: FlagMaxBodyBytes, Default: 1 << 20, Desc: "maximum JSON request body size"},
		{Flag: FlagCORSOrigins, Default: []string{"*"}, Desc: "allowed CORS origins"},
		{Flag: FlagTrustedProxies, Default: []string{}, Desc: "proxy IPs or CIDRs whose X-Forwarded-For is honoured"},
		{Flag: FlagLogLevel, Default: "info", Desc: "log level: debug, info, warn, error"},
		{Flag: FlagShutdownTimeout, Default: 10 * time.Second, Desc: "graceful shutdown timeout"},
	}
}

// MigrateOptions are the options of the migration tool.
func MigrateOptions() []Opt {
	return []Opt{
		{Flag: FlagPGDSN, Default: "", Desc: "PostgreSQL DSN"},
		{Flag: FlagLogLevel, Default: "info", Desc: "log level: debug, info, warn, error"},
	}
}

// Config is the resolved server configuration.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	Store           string
	PGDSN           string
	MongoURI        string
	MongoDatabase   string
	AuthSecret      string
	RateBurst       int
	RatePerSec      float64
	MaxBodyBytes    int64
	CORSOrigins     []string
	TrustedProxies  []string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// NewViper returns a viper instance reading ASSETDESK_* environment variables,
// with "-" in flag names mapped to "_".
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// BindOptions adds opts to cmd's flags and registers them with v.
func BindOptions(v *viper.Viper, cmd *cobra.Command, opts []Opt) {
	flags := cmd.PersistentFlags()
	for _, o := range opts {
		switch d := o.Default.(type) {
		case string:
			flags.String(o.Flag, d, o.Desc)
		case int:
			flags.Int(o.Flag, d, o.Desc)
		case float64:
			flags.Float64(o.Flag, d, o.Desc)
		case bool:
			flags.Bool(o.Flag, d, o.Desc)
		case time.Duration:
			flags.Duration(o.Flag, d, o.Desc)
		case []string:
			flags.StringSlice(o.Flag, d, o.Desc)
		default:
			panic(fmt.Errorf("unknown default type %T for %s", o.Default, o.Flag))
		}
		if err := v.BindPFlag(o.Flag, flags.Lookup(o.Flag)); err != nil {
			panic(err)
		}
	}
}

// LoadDotEnv loads variables from the given .env files without overriding the
// process environment. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var errs error
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, fmt.Errorf("load %s: %w", p, err))
		}
	}
	return errs
}

// Load reads the server configuration from v.
func Load(v *viper.Viper) Config {
	return Config{
		HTTPAddr:        v.GetString(FlagHTTPAddr),
		GRPCAddr:        v.GetString(FlagGRPCAddr),
		Store:           strings.ToLower(strings.TrimSpace(v.GetString(FlagStore))),
		PGDSN:           v.GetString(FlagPGDSN),
		MongoURI:        v.GetString(FlagMongoURI),
		MongoDatabase:   v.GetString(FlagMongoDatabase),
		AuthSecret:      v.GetString(FlagAuthSecret),
		RateBurst:       v.GetInt(FlagRateBurst),
		RatePerSec:      v.GetFloat64(FlagRatePerSec),
		MaxBodyBytes:    int64(v.GetInt(FlagMaxBodyBytes)),
		CORSOrigins:     v.GetStringSlice(FlagCORSOrigins),
		TrustedProxies:  v.GetStringSlice(FlagTrustedProxies),
		LogLevel:        v.GetString(FlagLogLevel),
		ShutdownTimeout: v.GetDuration(FlagShutdownTimeout),
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = multierr.Append(errs, errors.New("http-addr is required"))
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = multierr.Append(errs, errors.New("auth-secret is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.PGDSN) == "" {
			errs = multierr.Append(errs, errors.New("pg-dsn is required for the postgres store"))
		}
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = multierr.Append(errs, errors.New("mongo-uri is required for the mongo store"))
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			errs = multierr.Append(errs, errors.New("mongo-database is required for the mongo store"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	for _, p := range c.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = multierr.Append(errs, errors.New("rate-burst and rate-per-sec must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = multierr.Append(errs, errors.New("max-body-bytes must be positive"))
	}
	return errs
}

// ParseProxy accepts a bare IP or a CIDR block.
func ParseProxy(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if _, block, err := net.ParseCIDR(s); err == nil {
		return block, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("trusted-proxies: invalid address %q", s)
	}
	bits := 8 * net.IPv6len
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 8*net.IPv4len
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}
