package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlatformsConfig holds the application credentials and endpoints each
// network adapter is built with. Empty URLs mean the production default.
type PlatformsConfig struct {
	Facebook MetaApp     `yaml:"facebook"`
	Threads  MetaApp     `yaml:"threads"`
	LinkedIn LinkedInApp `yaml:"linkedin"`
	Twitter  TwitterApp  `yaml:"twitter"`
}

// MetaApp configures the Graph API apps. Instagram shares the Facebook app.
type MetaApp struct {
	BaseURL   string `yaml:"base_url"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
}

type LinkedInApp struct {
	APIURL       string `yaml:"api_url"`
	AuthURL      string `yaml:"auth_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Version      string `yaml:"version"`
}

type TwitterApp struct {
	APIURL       string `yaml:"api_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoadPlatforms reads the optional YAML file at path and applies env
// overrides on top. An empty path skips the file.
func LoadPlatforms(path string) (PlatformsConfig, error) {
	var cfg PlatformsConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read PLATFORMS_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse PLATFORMS_FILE %s: %w", path, err)
		}
	}
	applyPlatformEnv(&cfg)
	return cfg, nil
}

func applyPlatformEnv(cfg *PlatformsConfig) {
	override(&cfg.Facebook.AppID, "FACEBOOK_APP_ID")
	override(&cfg.Facebook.AppSecret, "FACEBOOK_APP_SECRET")
	override(&cfg.Threads.AppSecret, "THREADS_APP_SECRET")
	override(&cfg.LinkedIn.ClientID, "LINKEDIN_CLIENT_ID")
	override(&cfg.LinkedIn.ClientSecret, "LINKEDIN_CLIENT_SECRET")
	override(&cfg.Twitter.ClientID, "TWITTER_CLIENT_ID")
	override(&cfg.Twitter.ClientSecret, "TWITTER_CLIENT_SECRET")
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
