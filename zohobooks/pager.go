package zohobooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PageSize is the largest per_page Zoho Books accepts.
const PageSize = 200

// Lister is the part of the API client the page walker needs.
type Lister interface {
	Get(ctx context.Context, path string, params url.Values) ([]byte, error)
}

// Pager walks a Zoho list endpoint until page_context.has_more_page is false.
type Pager struct {
	api      Lister
	pageSize int
	logger   *logrus.Logger
}

func NewPager(api Lister, logger *logrus.Logger) *Pager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pager{api: api, pageSize: PageSize, logger: logger}
}

type pageEnvelope struct {
	Code        *json.Number `json:"code"`
	Message     string       `json:"message"`
	PageContext *struct {
		HasMorePage bool `json:"has_more_page"`
	} `json:"page_context"`
}

// FetchAll returns every item under itemsKey across all pages, in the order Zoho
// served them. There is no page cap; any page failure aborts the walk.
func (p *Pager) FetchAll(ctx context.Context, path string, baseParams url.Values, itemsKey string) ([]Record, error) {
	all := make([]Record, 0, p.pageSize)
	for page := 1; ; page++ {
		params := url.Values{}
		for k, vs := range baseParams {
			params[k] = append([]string(nil), vs...)
		}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(p.pageSize))

		items, hasMore, err := p.fetchPage(ctx, path, params, itemsKey, page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		p.logger.WithFields(logrus.Fields{
			"field":    "zohoPager",
			"path":     path,
			"page":     page,
			"items":    len(items),
			"total":    len(all),
			"has_more": hasMore,
		}).Debug("fetched page")

		if !hasMore {
			return all, nil
		}
	}
}

func (p *Pager) fetchPage(ctx context.Context, path string, params url.Values, itemsKey string, page int) ([]Record, bool, error) {
	ctx, span := tracer.Start(ctx, "zohobooks.FetchPage", trace.WithAttributes(
		attribute.String("zoho.path", path),
		attribute.Int("zoho.page", page),
	))
	defer span.End()

	body, err := p.api.Get(ctx, path, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("fetch %s page %d: %w", path, page, err)
	}
	items, hasMore, err := decodePage(body, itemsKey)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("decode %s page %d: %w", path, page, err)
	}
	span.SetAttributes(attribute.Int("zoho.items", len(items)))
	return items, hasMore, nil
}

func decodePage(body []byte, itemsKey string) ([]Record, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false, err
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, err
	}
	// Zoho reports some failures as 200 with a non-zero code.
	if env.Code != nil && env.Code.String() != "0" {
		return nil, false, &ApiError{
			Method: http.MethodGet,
			Status: http.StatusOK,
			Body:   fmt.Sprintf("code %s: %s", env.Code.String(), env.Message),
		}
	}

	var items []Record
	if raw, ok := fields[itemsKey]; ok && len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&items); err != nil {
			return nil, false, err
		}
	}
	hasMore := env.PageContext != nil && env.PageContext.HasMorePage
	return items, hasMore, nil
}
