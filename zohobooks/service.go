package zohobooks

import (
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service is a fully wired sync engine backed by db.
type Service struct {
	Syncer *Syncer
	Store  *GormStore
	Creds  *CredentialManager
}

// NewService builds credentials, client, pager, writer, locker and syncer from cfg.
func NewService(cfg config.ZohoConfig, db *gorm.DB, logger *logrus.Logger) *Service {
	creds := NewCredentialManager(CredentialConfig{
		AccountsBaseURL: cfg.AccountsBaseURL,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		RefreshToken:    cfg.RefreshToken,
		Timeout:         cfg.HTTPTimeout,
	}, logger)
	client := NewClient(ClientConfig{
		BaseURL:         cfg.BooksBaseURL,
		OrganizationID:  cfg.OrganizationID,
		Timeout:         cfg.HTTPTimeout,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}, creds, logger)

	store := NewGormStore(db)
	deps := SyncerDeps{
		Pager:  NewPager(client, logger),
		Writer: NewWriter(store, logger),
		Locker: NewLocker(store, cfg.StaleLockAfter, logger),
		Runs:   store,
	}
	if cfg.ArchiveBucket != "" {
		deps.Archiver = NewGCSArchiver(cfg.ArchiveBucket)
	}
	syncer := NewSyncer(deps, SyncerConfig{
		Modules:      DefaultModules(),
		LookbackDays: cfg.LookbackDays,
		Location:     cfg.Location(),
	}, logger)

	return &Service{Syncer: syncer, Store: store, Creds: creds}
}
