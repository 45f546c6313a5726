package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Security struct {
		// Apagado por defecto: sin esto la estación no arma la cadena.
		Enable bool `yaml:"enable"`
		// Raíz del storage: certs/, metadata.yaml y private/ (claves).
		StorageDir    string `yaml:"storage_dir"`
		KeyPassphrase string `yaml:"key_passphrase"`
		// Identificador canónico registrado en el EA.
		CanonicalID        string `yaml:"canonical_id"`
		Curve              string `yaml:"curve"`
		ECSignaturePrivacy bool   `yaml:"ec_signature_privacy"`
		ProofOfPossession  bool   `yaml:"proof_of_possession"`
		EmbedCertificate   bool   `yaml:"embed_certificate"`
		PeerCacheTTL       string `yaml:"peer_cache_ttl"`
	} `yaml:"security"`

	PKI struct {
		MaxRetries   int    `yaml:"max_retries"`
		RetryBackoff string `yaml:"retry_backoff"`
	} `yaml:"pki"`
}

// Load lee el YAML de path, aplica defaults y overrides de entorno y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv arma la config solo con defaults y variables de entorno.
func FromEnv() (*Config, error) {
	var c Config
	if err := c.finish(""); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finish(base string) error {
	c.applyDefaults()

	// Overrides por env
	c.applyEnvOverrides()

	for name, v := range map[string]string{
		"security.peer_cache_ttl": c.Security.PeerCacheTTL,
		"pki.retry_backoff":       c.PKI.RetryBackoff,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}

	if err := c.Validate(); err != nil {
		return err
	}

	// storage_dir relativo ⇒ relativo al directorio del YAML
	if p := strings.TrimSpace(c.Security.StorageDir); p != "" && base != "" && !filepath.IsAbs(p) {
		c.Security.StorageDir = filepath.Clean(filepath.Join(base, p))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Security.Curve == "" {
		c.Security.Curve = backend.NistP256.String()
	}
	if c.Security.PeerCacheTTL == "" {
		c.Security.PeerCacheTTL = "10m"
	}
	if c.PKI.MaxRetries == 0 {
		c.PKI.MaxRetries = 3
	}
	if c.PKI.RetryBackoff == "" {
		c.PKI.RetryBackoff = "2s"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// SECURITY
	if v, ok := getEnvBool("ITS_SECURITY_ENABLE"); ok {
		c.Security.Enable = v
	}
	if v, ok := getEnvStr("ITS_STORAGE_DIR"); ok {
		c.Security.StorageDir = v
	}
	if v, ok := getEnvStr("ITS_KEY_PASSPHRASE"); ok {
		c.Security.KeyPassphrase = v
	}
	if v, ok := getEnvStr("ITS_CANONICAL_ID"); ok {
		c.Security.CanonicalID = v
	}
	if v, ok := getEnvStr("ITS_CURVE"); ok {
		c.Security.Curve = v
	}
	if v, ok := getEnvBool("ITS_EMBED_CERTIFICATE"); ok {
		c.Security.EmbedCertificate = v
	}
	if v, ok := getEnvDur("ITS_PEER_CACHE_TTL"); ok {
		c.Security.PeerCacheTTL = v.String()
	}

	// PKI
	if v, ok := getEnvInt("ITS_PKI_MAX_RETRIES"); ok {
		c.PKI.MaxRetries = v
	}
	if v, ok := getEnvDur("ITS_PKI_RETRY_BACKOFF"); ok {
		c.PKI.RetryBackoff = v.String()
	}
}

// Validate checks the values the station cannot start without.
func (c *Config) Validate() error {
	switch c.App.Env {
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("%w: app_env %q (dev|staging|prod)", ErrInvalid, c.App.Env)
	}
	if c.PKI.MaxRetries < 1 {
		return fmt.Errorf("%w: pki.max_retries must be >= 1", ErrInvalid)
	}
	if !c.Security.Enable {
		return nil
	}
	if strings.TrimSpace(c.Security.StorageDir) == "" {
		return fmt.Errorf("%w: security.storage_dir is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Security.CanonicalID) == "" {
		return fmt.Errorf("%w: security.canonical_id is required", ErrInvalid)
	}
	if _, err := backend.ParseCurve(c.Security.Curve); err != nil {
		return fmt.Errorf("%w: security.curve: %v", ErrInvalid, err)
	}
	// en prod las claves privadas nunca quedan en claro
	if c.App.Env == "prod" && c.Security.KeyPassphrase == "" {
		return fmt.Errorf("%w: security.key_passphrase is required in prod", ErrInvalid)
	}
	return nil
}

// Curve devuelve la curva configurada. Solo válido tras Validate.
func (c *Config) Curve() backend.Curve {
	cv, _ := backend.ParseCurve(c.Security.Curve)
	return cv
}

func (c *Config) PeerCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Security.PeerCacheTTL)
	return d
}

func (c *Config) RetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.PKI.RetryBackoff)
	return d
}
