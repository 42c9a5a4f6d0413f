// Package config loads process settings from the environment, optionally
// seeded from a .env file. Settings are read once at startup and passed by
// value to constructors.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hamzasheedi/secure-hub/internal/crypto"
)

const (
	MetadataSQLite = "sqlite"
	MetadataMongo  = "mongo"
	MetadataMemory = "memory"

	MinKDFIterations = 100_000
)

type Config struct {
	MaxPayloadBytes int64
	HeadroomBuffer  int64
	KDFIterations   int
	Cipher          string

	ScratchDir     string
	DurableEnabled bool
	DurableTimeout time.Duration

	MongoURI   string
	MongoDB    string
	BlobBucket string

	MetadataBackend string
	SQLitePath      string

	HTTPAddr  string
	JWTIssuer string
	JWTSeed   string
	TokenTTL  time.Duration

	DecryptAttempts int
	DecryptWindow   time.Duration
	TrustProxy      bool

	LogLevel  string
	LogFormat string
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), then the process environment, then applies defaults.
// Variables already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	c := Config{
		MaxPayloadBytes: r.int64("VAULT_MAX_PAYLOAD_BYTES"),
		HeadroomBuffer:  r.int64("VAULT_HEADROOM_BUFFER_BYTES"),
		KDFIterations:   int(r.int64("VAULT_KDF_ITERATIONS")),
		Cipher:          r.str("VAULT_CIPHER"),
		ScratchDir:      r.str("VAULT_SCRATCH_DIR"),
		DurableEnabled:  r.bool("VAULT_DURABLE_ENABLED"),
		DurableTimeout:  r.duration("VAULT_DURABLE_TIMEOUT"),
		MongoURI:        r.str("VAULT_MONGO_URI"),
		MongoDB:         r.str("VAULT_MONGO_DB"),
		BlobBucket:      r.str("VAULT_BLOB_BUCKET"),
		MetadataBackend: strings.ToLower(r.str("VAULT_METADATA_BACKEND")),
		SQLitePath:      r.str("VAULT_SQLITE_PATH"),
		HTTPAddr:        r.str("VAULT_HTTP_ADDR"),
		JWTIssuer:       r.str("VAULT_JWT_ISSUER"),
		JWTSeed:         r.str("VAULT_JWT_SEED"),
		TokenTTL:        r.duration("VAULT_TOKEN_TTL"),
		DecryptAttempts: int(r.int64("VAULT_DECRYPT_ATTEMPTS")),
		DecryptWindow:   r.duration("VAULT_DECRYPT_WINDOW"),
		TrustProxy:      r.bool("VAULT_TRUST_PROXY"),
		LogLevel:        r.str("VAULT_LOG_LEVEL"),
		LogFormat:       r.str("VAULT_LOG_FORMAT"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = 10 << 20
	}
	if c.HeadroomBuffer == 0 {
		c.HeadroomBuffer = 10 << 20
	}
	if c.KDFIterations == 0 {
		c.KDFIterations = crypto.DefaultIterations
	}
	if c.Cipher == "" {
		c.Cipher = crypto.CodecXChaCha20Poly1305
	}
	if c.ScratchDir == "" {
		c.ScratchDir = "./secure_storage"
	}
	if c.DurableTimeout <= 0 {
		c.DurableTimeout = 10 * time.Second
	}
	if c.MongoDB == "" {
		c.MongoDB = "securevault"
	}
	if c.BlobBucket == "" {
		c.BlobBucket = "vault_blobs"
	}
	if c.MetadataBackend == "" {
		c.MetadataBackend = MetadataSQLite
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "./securevault.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "securevault-backend"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 30 * time.Minute
	}
	if c.DecryptAttempts == 0 {
		c.DecryptAttempts = 5
	}
	if c.DecryptWindow <= 0 {
		c.DecryptWindow = time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("VAULT_MAX_PAYLOAD_BYTES must be positive"))
	}
	if c.HeadroomBuffer < 0 {
		errs = append(errs, errors.New("VAULT_HEADROOM_BUFFER_BYTES must not be negative"))
	}
	if c.KDFIterations < MinKDFIterations {
		errs = append(errs, fmt.Errorf("VAULT_KDF_ITERATIONS must be at least %d", MinKDFIterations))
	}
	if _, ok := crypto.LookupCodec(c.Cipher); !ok {
		errs = append(errs, fmt.Errorf("VAULT_CIPHER %q unknown (have %s)", c.Cipher, strings.Join(crypto.CodecNames(), ", ")))
	}
	switch c.MetadataBackend {
	case MetadataSQLite, MetadataMemory:
	case MetadataMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("VAULT_MONGO_URI is required for the mongo metadata backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("VAULT_METADATA_BACKEND %q unknown", c.MetadataBackend))
	}
	if c.DurableEnabled && c.MongoURI == "" {
		errs = append(errs, errors.New("VAULT_MONGO_URI is required when VAULT_DURABLE_ENABLED is set"))
	}
	if c.JWTSeed != "" {
		if _, err := c.JWTSeedBytes(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DecryptAttempts < 0 {
		errs = append(errs, errors.New("VAULT_DECRYPT_ATTEMPTS must not be negative"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("VAULT_LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Suite is the cipher suite applied to newly encrypted files.
func (c Config) Suite() (crypto.Suite, error) {
	return crypto.NewSuite(c.KDFIterations, c.Cipher)
}

// JWTSeedBytes decodes VAULT_JWT_SEED (64 hex characters). It returns nil
// when no seed is configured.
func (c Config) JWTSeedBytes() ([]byte, error) {
	if c.JWTSeed == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.JWTSeed)
	if err != nil || len(b) != 32 {
		return nil, errors.New("VAULT_JWT_SEED must be 64 hex characters")
	}
	return b, nil
}

// UsesMongo reports whether any component needs a Mongo connection.
func (c Config) UsesMongo() bool {
	return c.DurableEnabled || c.MetadataBackend == MetadataMongo
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key string) string {
	v, _ := r.lookup(key)
	return strings.TrimSpace(v)
}

func (r *reader) int64(key string) int64 {
	v := r.str(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}
	return n
}

func (r *reader) bool(key string) bool {
	v := r.str(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}
	return d
}
