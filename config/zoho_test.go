package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredZohoEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ZOHO_CLIENT_ID", "1000.ABC")
	t.Setenv("ZOHO_CLIENT_SECRET", "secret")
	t.Setenv("ZOHO_REFRESH_TOKEN", "1000.refresh")
	t.Setenv("ZOHO_ORG_ID", "60012345")
	for _, k := range []string{
		"ZOHO_ACCOUNTS_BASE_URL", "ZOHO_BOOKS_BASE_URL", "ZOHO_BASE_URL", "ZOHO_HTTP_TIMEOUT_SECONDS",
		"ZOHO_RATE_LIMIT_PER_MIN", "ZOHO_FULL_REFRESH", "ZOHO_SYNC_CRON", "ZOHO_SYNC_TIMEZONE",
		"ZOHO_SYNC_LOOKBACK_DAYS", "ZOHO_SYNC_STALE_LOCK_MINUTES", "ZOHO_SYNC_TOPIC",
		"ZOHO_SYNC_ARCHIVE_BUCKET", "ADMIN_API_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadZohoConfig_Defaults(t *testing.T) {
	setRequiredZohoEnv(t)

	cfg, err := LoadZohoConfig()
	if err != nil {
		t.Fatalf("LoadZohoConfig: %v", err)
	}
	if cfg.AccountsBaseURL != "https://accounts.zoho.in" {
		t.Fatalf("AccountsBaseURL = %q", cfg.AccountsBaseURL)
	}
	if cfg.BooksBaseURL != "https://www.zohoapis.in/books/v3" {
		t.Fatalf("BooksBaseURL = %q", cfg.BooksBaseURL)
	}
	if cfg.HTTPTimeout != 20*time.Second {
		t.Fatalf("HTTPTimeout = %s", cfg.HTTPTimeout)
	}
	if cfg.CronSpec != "30 22 * * *" || cfg.Timezone != "Asia/Kolkata" {
		t.Fatalf("schedule = %q in %q", cfg.CronSpec, cfg.Timezone)
	}
	if cfg.LookbackDays != 90 || cfg.StaleLockAfter != 0 || cfg.FullRefreshNightly {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadZohoConfig_Overrides(t *testing.T) {
	setRequiredZohoEnv(t)
	t.Setenv("ZOHO_BASE_URL", "https://www.zohoapis.com/books/v3/")
	t.Setenv("ZOHO_FULL_REFRESH", "true")
	t.Setenv("ZOHO_SYNC_STALE_LOCK_MINUTES", "120")
	t.Setenv("ZOHO_SYNC_TIMEZONE", "UTC")

	cfg, err := LoadZohoConfig()
	if err != nil {
		t.Fatalf("LoadZohoConfig: %v", err)
	}
	if cfg.BooksBaseURL != "https://www.zohoapis.com/books/v3" {
		t.Fatalf("ZOHO_BASE_URL fallback not applied: %q", cfg.BooksBaseURL)
	}
	if !cfg.FullRefreshNightly {
		t.Fatalf("ZOHO_FULL_REFRESH not applied")
	}
	if cfg.StaleLockAfter != 2*time.Hour {
		t.Fatalf("StaleLockAfter = %s", cfg.StaleLockAfter)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("Location = %s", cfg.Location())
	}

	// ZOHO_BOOKS_BASE_URL wins over ZOHO_BASE_URL.
	t.Setenv("ZOHO_BOOKS_BASE_URL", "https://www.zohoapis.eu/books/v3")
	cfg, err = LoadZohoConfig()
	if err != nil {
		t.Fatalf("LoadZohoConfig: %v", err)
	}
	if cfg.BooksBaseURL != "https://www.zohoapis.eu/books/v3" {
		t.Fatalf("BooksBaseURL = %q", cfg.BooksBaseURL)
	}
}

func TestLoadZohoConfig_Invalid(t *testing.T) {
	setRequiredZohoEnv(t)
	t.Setenv("ZOHO_REFRESH_TOKEN", "")
	if _, err := LoadZohoConfig(); err == nil || !strings.Contains(err.Error(), "RefreshToken") {
		t.Fatalf("expected missing refresh token error, got %v", err)
	}

	setRequiredZohoEnv(t)
	t.Setenv("ZOHO_SYNC_TIMEZONE", "Mars/Olympus")
	if _, err := LoadZohoConfig(); err == nil {
		t.Fatalf("expected an invalid timezone error")
	}
}
