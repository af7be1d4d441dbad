package zohobooks

import (
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/sales_backend/models"
)

// Module describes one mirrored Zoho Books resource.
type Module struct {
	Name       string
	Path       string
	ItemsKey   string
	NaturalKey string
	Table      string
}

var (
	Invoices = Module{
		Name:       "invoices",
		Path:       "/invoices",
		ItemsKey:   "invoices",
		NaturalKey: "invoice_id",
		Table:      models.ZohoInvoicesTable,
	}
	PurchaseOrders = Module{
		Name:       "purchaseorders",
		Path:       "/purchaseorders",
		ItemsKey:   "purchaseorders",
		NaturalKey: "purchaseorder_id",
		Table:      models.ZohoPurchaseOrdersTable,
	}
)

// DefaultModules is the order modules run in.
func DefaultModules() []Module {
	return []Module{Invoices, PurchaseOrders}
}

func ModuleByName(name string) (Module, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range DefaultModules() {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// ResolveModules maps names to modules; an empty list means all of them.
func ResolveModules(names []string) ([]Module, []string) {
	if len(names) == 0 {
		return DefaultModules(), nil
	}
	var out []Module
	var unknown []string
	seen := map[string]bool{}
	for _, n := range names {
		m, ok := ModuleByName(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out, unknown
}

// ModuleResult is the outcome of one module run.
type ModuleResult struct {
	Module     string    `json:"module"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Window     *Window   `json:"window,omitempty"`
	Fetched    int       `json:"fetched"`
	Applied    int       `json:"upserted"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	RunId      uint      `json:"runId,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	writeErrors []*WriteError
	err         error
}

// Report is the outcome of a RunDelta / RunFullBackfill call, one entry per module.
type Report struct {
	Mode    string         `json:"mode"`
	Modules []ModuleResult `json:"modules"`
}

// Failed reports whether any module run ended in failure. Skipped modules do not count.
func (r Report) Failed() bool {
	for _, m := range r.Modules {
		if m.Status == models.SyncRunStatusFailed {
			return true
		}
	}
	return false
}

// Retryable reports whether some module failed on our side (cursor or record storage)
// rather than on a Zoho auth or API error. Redelivering such a request can succeed.
func (r Report) Retryable() bool {
	for _, m := range r.Modules {
		if m.Status != models.SyncRunStatusFailed || m.err == nil {
			continue
		}
		var authErr *AuthError
		var apiErr *ApiError
		if !errors.As(m.err, &authErr) && !errors.As(m.err, &apiErr) {
			return true
		}
	}
	return false
}

// message is the first module error of a report that did not fully succeed.
func (r Report) message() string {
	for _, m := range r.Modules {
		if m.Status == models.SyncRunStatusFailed {
			return m.Module + ": " + m.Error
		}
	}
	for _, m := range r.Modules {
		if m.Status == models.SyncRunStatusSkipped {
			return m.Module + ": " + m.Error
		}
	}
	return ""
}

func (r Report) Module(name string) (ModuleResult, bool) {
	for _, m := range r.Modules {
		if m.Module == name {
			return m, true
		}
	}
	return ModuleResult{}, false
}

// SyncRequest is the body of the admin sync endpoint and of the Pub/Sub message.
type SyncRequest struct {
	Mode          string   `json:"mode" binding:"omitempty,oneof=delta full"`
	Modules       []string `json:"modules" binding:"omitempty,dive,oneof=invoices purchaseorders"`
	CorrelationId string   `json:"correlation_id,omitempty"`
	TriggeredBy   string   `json:"triggered_by,omitempty"`
}

// SyncResponse is the body of the admin sync endpoints.
type SyncResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Report  Report `json:"report"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type CursorResponse struct {
	Module       string  `json:"module"`
	Running      bool    `json:"running"`
	RunningSince *string `json:"runningSince"`
	LastSyncAt   *string `json:"lastSyncAt"`
	LastError    *string `json:"lastError"`
}

type SyncHistoryResponse struct {
	Items []models.SyncRun `json:"items"`
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
