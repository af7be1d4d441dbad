package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultZohoAccountsBaseURL = "https://accounts.zoho.in"
	defaultZohoBooksBaseURL    = "https://www.zohoapis.in/books/v3"
)

// ZohoConfig is everything the Zoho Books sync engine needs from the environment.
type ZohoConfig struct {
	ClientID        string `validate:"required"`
	ClientSecret    string `validate:"required"`
	RefreshToken    string `validate:"required"`
	OrganizationID  string `validate:"required"`
	AccountsBaseURL string `validate:"required,url"`
	BooksBaseURL    string `validate:"required,url"`

	HTTPTimeout     time.Duration `validate:"gt=0"`
	RateLimitPerMin int           `validate:"gte=0"`

	// nightly job
	FullRefreshNightly bool
	CronSpec           string `validate:"required"`
	Timezone           string `validate:"required,timezone"`

	LookbackDays   int           `validate:"gt=0"`
	StaleLockAfter time.Duration `validate:"gte=0"`

	SyncTopic     string
	ArchiveBucket string
	AdminToken    string
}

// Location resolves Timezone; LoadZohoConfig has already validated it.
func (c ZohoConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var configValidator = validator.New()

// LoadZohoConfig reads ZOHO_* env vars (after .env) and validates the result.
func LoadZohoConfig() (ZohoConfig, error) {
	booksBase := strings.TrimSpace(os.Getenv("ZOHO_BOOKS_BASE_URL"))
	if booksBase == "" {
		booksBase = strings.TrimSpace(os.Getenv("ZOHO_BASE_URL"))
	}
	if booksBase == "" {
		booksBase = defaultZohoBooksBaseURL
	}

	cfg := ZohoConfig{
		ClientID:           strings.TrimSpace(os.Getenv("ZOHO_CLIENT_ID")),
		ClientSecret:       strings.TrimSpace(os.Getenv("ZOHO_CLIENT_SECRET")),
		RefreshToken:       strings.TrimSpace(os.Getenv("ZOHO_REFRESH_TOKEN")),
		OrganizationID:     strings.TrimSpace(os.Getenv("ZOHO_ORG_ID")),
		AccountsBaseURL:    strings.TrimRight(stringFromEnv("ZOHO_ACCOUNTS_BASE_URL", defaultZohoAccountsBaseURL), "/"),
		BooksBaseURL:       strings.TrimRight(booksBase, "/"),
		HTTPTimeout:        time.Duration(intFromEnv("ZOHO_HTTP_TIMEOUT_SECONDS", 20)) * time.Second,
		RateLimitPerMin:    intFromEnv("ZOHO_RATE_LIMIT_PER_MIN", 100),
		FullRefreshNightly: boolFromEnv("ZOHO_FULL_REFRESH", false),
		CronSpec:           stringFromEnv("ZOHO_SYNC_CRON", "30 22 * * *"),
		Timezone:           stringFromEnv("ZOHO_SYNC_TIMEZONE", "Asia/Kolkata"),
		LookbackDays:       intFromEnv("ZOHO_SYNC_LOOKBACK_DAYS", 90),
		StaleLockAfter:     time.Duration(intFromEnv("ZOHO_SYNC_STALE_LOCK_MINUTES", 0)) * time.Minute,
		SyncTopic:          strings.TrimSpace(os.Getenv("ZOHO_SYNC_TOPIC")),
		ArchiveBucket:      strings.TrimSpace(os.Getenv("ZOHO_SYNC_ARCHIVE_BUCKET")),
		AdminToken:         strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
	}

	if err := configValidator.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid zoho config: %w", err)
	}
	return cfg, nil
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
