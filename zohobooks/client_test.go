package zohobooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type apiServer struct {
	*httptest.Server
	calls   atomic.Int32
	handler func(n int32, w http.ResponseWriter, r *http.Request)
}

func newAPIServer(t *testing.T, handler func(n int32, w http.ResponseWriter, r *http.Request)) *apiServer {
	t.Helper()
	s := &apiServer{handler: handler}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handler(s.calls.Add(1), w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, ts *tokenServer, api *apiServer, httpClient *http.Client) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		BaseURL:        api.URL + "/books/v3",
		OrganizationID: "60012345",
		Timeout:        5 * time.Second,
		HTTPClient:     httpClient,
	}, newTestCredentialManager(ts), quietLogger())
}

func TestClient_SendsCredentialAndOrganizationHeaders(t *testing.T) {
	ts := newTokenServer(t)
	api := newAPIServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-com-zoho-books-organizationid"); got != "60012345" {
			t.Errorf("organization header = %q", got)
		}
		if r.URL.Path != "/books/v3/invoices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q", got)
		}
		fmt.Fprint(w, `{"code":0,"invoices":[]}`)
	})
	c := newTestClient(t, ts, api, nil)

	body, err := c.Get(context.Background(), "/invoices", url.Values{"page": {"2"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `{"code":0,"invoices":[]}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestClient_RetriesOnceAfter401(t *testing.T) {
	ts := newTokenServer(t)
	api := newAPIServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":57,"message":"You are not authorized"}`)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken tok-2" {
			t.Errorf("retry used %q, want the refreshed token", got)
		}
		fmt.Fprint(w, `{"code":0}`)
	})
	c := newTestClient(t, ts, api, nil)

	if _, err := c.Get(context.Background(), "/invoices", nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := api.calls.Load(); got != 2 {
		t.Fatalf("expected 2 API calls, got %d", got)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Fatalf("expected 2 token calls (initial + forced), got %d", got)
	}
}

func TestClient_Second401IsTerminal(t *testing.T) {
	ts := newTokenServer(t)
	api := newAPIServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":57,"message":"You are not authorized"}`)
	})
	c := newTestClient(t, ts, api, nil)

	_, err := c.Get(context.Background(), "/invoices", nil)
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", apiErr.Status)
	}
	if got := api.calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 API calls, got %d", got)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Fatalf("expected exactly 1 forced refresh (2 token calls), got %d", got)
	}
}

func TestClient_ServerErrorIsNotRetried(t *testing.T) {
	ts := newTokenServer(t)
	api := newAPIServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream exploded")
	})
	c := newTestClient(t, ts, api, nil)

	_, err := c.Get(context.Background(), "/purchaseorders", nil)
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Body != "upstream exploded" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("expected 1 API call, got %d", got)
	}
}

func TestClient_TimeoutSurfacesImmediately(t *testing.T) {
	ts := newTokenServer(t)
	api := newAPIServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestClient(t, ts, api, &http.Client{Timeout: 50 * time.Millisecond})

	_, err := c.Get(context.Background(), "/invoices", nil)
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *ApiError, got %T: %v", err, err)
	}
	if !apiErr.Timeout || apiErr.Status != 0 {
		t.Fatalf("expected a timeout with no status, got %+v", apiErr)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("expected 1 API call, got %d", got)
	}
}

func TestClient_AuthFailureStopsBeforeCallingAPI(t *testing.T) {
	ts := newTokenServer(t)
	ts.status = http.StatusBadRequest
	api := newAPIServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":0}`)
	})
	c := newTestClient(t, ts, api, nil)

	_, err := c.Get(context.Background(), "/invoices", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if got := api.calls.Load(); got != 0 {
		t.Fatalf("expected no API calls, got %d", got)
	}
}
