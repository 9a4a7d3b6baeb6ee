package config

import "strings"

// applyLocalDefaults fills what a developer running the gateway next to a
// local CMS and front-end would otherwise have to set by hand.
func applyLocalDefaults(cfg *Config) {
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost" + portSuffix(cfg.Port)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{cfg.PublicURL, "http://localhost:3000"}
	}
	if cfg.CollectionsPath == "" {
		cfg.CollectionsPath = "collections.yaml"
	}
	if cfg.Upload.StaticBase == "" && !cfg.Upload.CanUseS3() {
		cfg.Upload.StaticBase = cfg.PublicURL + "/media"
	}
}

func portSuffix(port string) string {
	port = strings.TrimSpace(port)
	if i := strings.LastIndex(port, ":"); i >= 0 {
		port = port[i+1:]
	}
	if port == "" || port == "80" {
		return ""
	}
	return ":" + port
}
