package config

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

type Config struct {
	Port      string        `env:"PORT,default=8080"`
	DataDir   string        `env:"DATA_DIR"`
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"` // text | json

	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	S3Bucket      string `env:"S3_BUCKET"`
	AWSRegion     string `env:"AWS_REGION,default=ap-northeast-2"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	FirebaseProjectID          string `env:"FIREBASE_PROJECT_ID"`
	FirebaseServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	GoogleCredentials          string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	NoFirebase                 bool   `env:"NO_FIREBASE,default=false"`

	CORSOrigins string  `env:"CORS_ORIGINS,default=*"` // comma separated
	LoginRate   float64 `env:"LOGIN_RATE,default=1"`   // attempts per second per IP
	LoginBurst  int     `env:"LOGIN_BURST,default=5"`

	// X-Forwarded-For is only read from these peers (IPs or CIDRs, comma separated).
	TrustedProxies string `env:"TRUSTED_PROXIES"`
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envdecode.Decode(&c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	if c.DataDir == "" {
		c.DataDir = "/data"
		if _, err := os.Stat(c.DataDir); err != nil {
			c.DataDir = filepath.Join(".", "data")
		}
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Addr() string { return ":" + c.Port }

func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES; a bare address is a single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range strings.Split(c.TrustedProxies, ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

type Paths struct {
	DataDir     string
	UploadsDir  string
	SnapshotDir string
}

func (c Config) Paths() Paths {
	return Paths{
		DataDir:     c.DataDir,
		UploadsDir:  filepath.Join(c.DataDir, "uploads"),
		SnapshotDir: filepath.Join(c.DataDir, "store"),
	}
}

func EnsureDir(dir string) error { return os.MkdirAll(dir, 0o755) }

// Firebase bundles the clients used for Google sign-in and push.
type Firebase struct {
	Auth      *auth.Client
	Messaging *messaging.Client
}

// NewFirebase returns nil when Firebase is switched off or not configured.
func NewFirebase(ctx context.Context, c Config) (*Firebase, error) {
	if c.NoFirebase || c.FirebaseProjectID == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	if c.FirebaseServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.FirebaseServiceAccountJSON)))
	} else if c.GoogleCredentials != "" {
		if _, err := os.Stat(c.GoogleCredentials); err != nil {
			return nil, fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS %q not readable: %w", c.GoogleCredentials, err)
		}
		opts = append(opts, option.WithCredentialsFile(c.GoogleCredentials))
	} else if os.Getenv("FIREBASE_AUTH_EMULATOR_HOST") == "" {
		return nil, errors.New("missing Firebase credentials: set FIREBASE_SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS, or NO_FIREBASE=1")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: c.FirebaseProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &Firebase{Auth: authClient, Messaging: msgClient}, nil
}
