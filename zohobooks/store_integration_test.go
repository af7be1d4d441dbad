package zohobooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"gorm.io/gorm"
)

func newIntegrationStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "zoho_sync_test")

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	return NewGormStore(db), db
}

func TestGormStore_Integration(t *testing.T) {
	store, db := newIntegrationStore(t)
	ctx := context.Background()

	t.Run("cursor acquire is exclusive across contenders", func(t *testing.T) {
		if _, err := store.EnsureCursor(ctx, "invoices"); err != nil {
			t.Fatalf("EnsureCursor: %v", err)
		}
		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.AcquireCursor(ctx, "invoices", time.Now().UTC(), nil)
				if err != nil {
					t.Errorf("AcquireCursor: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}

		finished := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)
		if err := store.ReleaseCursor(ctx, "invoices", finished, nil); err != nil {
			t.Fatalf("ReleaseCursor: %v", err)
		}
		cursors, err := store.ListCursors(ctx)
		if err != nil {
			t.Fatalf("ListCursors: %v", err)
		}
		if len(cursors) != 1 || cursors[0].Running || cursors[0].LastSyncAt == nil || !cursors[0].LastSyncAt.Equal(finished) {
			t.Fatalf("unexpected cursor after release: %+v", cursors)
		}

		// A failed run keeps lastSyncAt.
		if _, ok, err := store.AcquireCursor(ctx, "invoices", time.Now().UTC(), nil); err != nil || !ok {
			t.Fatalf("re-acquire: ok=%v err=%v", ok, err)
		}
		if err := store.ReleaseCursor(ctx, "invoices", time.Now().UTC(), errors.New("zoho 500")); err != nil {
			t.Fatalf("ReleaseCursor: %v", err)
		}
		cursors, _ = store.ListCursors(ctx)
		if !cursors[0].LastSyncAt.Equal(finished) || cursors[0].LastError == nil || *cursors[0].LastError != "zoho 500" {
			t.Fatalf("unexpected cursor after failure: %+v", cursors[0])
		}
	})

	t.Run("ensure cursor is idempotent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := store.EnsureCursor(ctx, "purchaseorders"); err != nil {
				t.Fatalf("EnsureCursor: %v", err)
			}
		}
		var n int64
		db.Model(&models.SyncCursor{}).Where("module = ?", "purchaseorders").Count(&n)
		if n != 1 {
			t.Fatalf("expected one cursor row, got %d", n)
		}
	})

	t.Run("replace by key overwrites", func(t *testing.T) {
		at := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)
		if err := store.ReplaceByKey(ctx, models.ZohoInvoicesTable, "1", []byte(`{"invoice_id":"1","status":"draft"}`), at); err != nil {
			t.Fatalf("ReplaceByKey: %v", err)
		}
		if err := store.ReplaceByKey(ctx, models.ZohoInvoicesTable, "1", []byte(`{"invoice_id":"1","status":"paid"}`), at.Add(time.Hour)); err != nil {
			t.Fatalf("ReplaceByKey: %v", err)
		}
		n, err := store.CountRecords(ctx, models.ZohoInvoicesTable)
		if err != nil || n != 1 {
			t.Fatalf("CountRecords = %d, %v", n, err)
		}
		var row models.ZohoInvoice
		if err := db.Where("natural_key = ?", "1").Take(&row).Error; err != nil {
			t.Fatalf("load: %v", err)
		}
		if !strings.Contains(string(row.Payload), "paid") || !row.FetchedAt.Equal(at.Add(time.Hour)) {
			t.Fatalf("row not replaced: %s at %s", row.Payload, row.FetchedAt)
		}
	})

	t.Run("runs and record errors", func(t *testing.T) {
		started := time.Now().UTC()
		run := &models.SyncRun{
			Source:    models.SyncSourceZohoBooks,
			Module:    "invoices",
			Mode:      models.SyncModeFull,
			Status:    models.SyncRunStatusPartial,
			StartedAt: &started,
		}
		errs := []models.SyncRecordError{{Module: "invoices", ExternalId: "2", ErrorCode: writeErrStorage, Message: "duplicate"}}
		if err := store.RecordRun(ctx, run, errs); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
		runs, err := store.ListRuns(ctx, "invoices", 10)
		if err != nil || len(runs) != 1 || runs[0].ID != run.ID {
			t.Fatalf("ListRuns = %+v, %v", runs, err)
		}
		stored, err := store.GetRunErrors(ctx, run.ID)
		if err != nil || len(stored) != 1 || stored[0].ExternalId != "2" {
			t.Fatalf("GetRunErrors = %+v, %v", stored, err)
		}
	})
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("zoho-sync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=zoho_sync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
