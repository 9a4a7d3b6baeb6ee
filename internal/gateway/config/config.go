package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string
	// PublicURL is the origin previews trust; frames published over RPC are
	// stamped with it.
	PublicURL       string
	APIRoute        string
	AllowedOrigins  []string
	CollectionsPath string
	DatabaseURL     string
	DocumentCache   int
	Upload          UploadConfig
}

type UploadConfig struct {
	Enabled    bool
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	StaticBase string
}

// CanUseS3 reports whether the upload signer can talk to an S3 endpoint.
func (c UploadConfig) CanUseS3() bool {
	return c.Enabled &&
		strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	collections := fs.String("collections", "", "path to the collections YAML file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}
	return fromEnv(*port, *collections), nil
}

func fromEnv(port, collections string) *Config {
	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			port = envPort
		} else {
			port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := &Config{
		Port:            port,
		Env:             env,
		PublicURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/"),
		APIRoute:        firstNonEmpty(strings.TrimSpace(os.Getenv("API_ROUTE")), "/api"),
		AllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		CollectionsPath: firstNonEmpty(strings.TrimSpace(collections), strings.TrimSpace(os.Getenv("COLLECTIONS_FILE"))),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DocumentCache:   parseInt(os.Getenv("DOCUMENT_CACHE_ENTRIES"), 1024),
		Upload:          loadUploadConfig(env),
	}
	if strings.EqualFold(env, "local") {
		applyLocalDefaults(cfg)
	}
	return cfg
}

func loadUploadConfig(env string) UploadConfig {
	endpoint := strings.TrimSpace(os.Getenv("UPLOAD_S3_ENDPOINT"))
	return UploadConfig{
		Enabled:    endpoint != "",
		Endpoint:   endpoint,
		Region:     firstNonEmpty(strings.TrimSpace(os.Getenv("UPLOAD_S3_REGION")), "us-east-1"),
		AccessKey:  firstNonEmpty(strings.TrimSpace(os.Getenv("UPLOAD_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey:  firstNonEmpty(strings.TrimSpace(os.Getenv("UPLOAD_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:     firstNonEmpty(strings.TrimSpace(os.Getenv("UPLOAD_S3_BUCKET")), "livepreview-media"),
		UseSSL:     resolveUploadUseSSL(env),
		StaticBase: strings.TrimSpace(os.Getenv("UPLOAD_STATIC_BASE")),
	}
}

func resolveUploadUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("UPLOAD_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
