package zohobooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// A token this close to expiry is refreshed before use.
	refreshSkew = 60 * time.Second
	// Used when the token response carries no expires_in.
	defaultTokenLifetime = time.Hour
)

// Credential is a Zoho access token and the instant it stops being accepted.
type Credential struct {
	Token  string
	Expiry time.Time
}

func (c Credential) expiring(now time.Time) bool {
	return c.Token == "" || !now.Add(refreshSkew).Before(c.Expiry)
}

type CredentialConfig struct {
	AccountsBaseURL string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// CredentialManager owns one access token. All refreshes for an instance go through a
// single-flight group, so the token endpoint sees one request per expiry no matter how
// many goroutines ask at once.
type CredentialManager struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu           sync.Mutex
	current      Credential
	refreshToken string

	flight singleflight.Group
}

func NewCredentialManager(cfg CredentialConfig, logger *logrus.Logger) *CredentialManager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CredentialManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.AccountsBaseURL + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   httpClient,
		timeout:      timeout,
		logger:       logger,
		now:          time.Now,
		refreshToken: cfg.RefreshToken,
	}
}

// Token returns a credential that is valid for at least refreshSkew, refreshing first
// when needed. A failed refresh is returned as *AuthError to every waiting caller.
func (m *CredentialManager) Token(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if !cur.expiring(m.now()) {
		return cur, nil
	}
	return m.refresh(ctx, "", false)
}

// Refresh forces a new token after the API rejected stale. When another caller has
// already replaced stale, the newer token is returned without another exchange.
func (m *CredentialManager) Refresh(ctx context.Context, stale string) (Credential, error) {
	return m.refresh(ctx, stale, true)
}

func (m *CredentialManager) refresh(ctx context.Context, stale string, force bool) (Credential, error) {
	v, err, _ := m.flight.Do("refresh", func() (interface{}, error) {
		m.mu.Lock()
		cur := m.current
		m.mu.Unlock()

		if !cur.expiring(m.now()) && (!force || cur.Token != stale) {
			return cur, nil
		}
		return m.exchange(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (m *CredentialManager) exchange(ctx context.Context) (Credential, error) {
	// Every waiter shares this call, so it must not die with the first caller's context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()

	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		TokenRefreshesTotal.WithLabelValues("error").Inc()
		authErr := &AuthError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.Status = retrieveErr.Response.StatusCode
		}
		m.logger.WithFields(logrus.Fields{
			"field":  "zohoCredentials",
			"status": authErr.Status,
		}).Error(authErr.Error())
		return Credential{}, authErr
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}
	cred := Credential{Token: tok.AccessToken, Expiry: expiry}

	m.mu.Lock()
	m.current = cred
	if tok.RefreshToken != "" {
		m.refreshToken = tok.RefreshToken
	}
	m.mu.Unlock()

	TokenRefreshesTotal.WithLabelValues("success").Inc()
	m.logger.WithFields(logrus.Fields{
		"field":  "zohoCredentials",
		"expiry": expiry.UTC().Format(time.RFC3339),
	}).Debug("zoho access token refreshed")
	return cred, nil
}
