package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"log/slog"

	"recruitflow/outreach-service/internal/model"
)

const httpTimeout = 15 * time.Second

// SearchQuery describes one contact lookup against the contact source.
type SearchQuery struct {
	Company       string
	Term          string
	RoleFiltered  bool // restrict to the search term's role
	RequireEmail  bool // only profiles with a published address
	ExcludeSenior bool // drop director-level and above
	MaxResults    int
}

// Finder is the discovery collaborator: live contact lookups plus the
// authoritative read of the remaining daily credit balance.
type Finder interface {
	// FindContacts returns profiles matching the query and the number of
	// credits the lookup consumed (0 for a fully cached lookup).
	FindContacts(ctx context.Context, q SearchQuery) ([]model.SearchResult, int, error)
	// RemoteQuota reads the account's remaining daily credits.
	RemoteQuota(ctx context.Context) (int, error)
}

// ContactSourceFetcher talks to the contact-source HTTP API. With an
// empty API key every lookup returns (nil, 0, nil) gracefully — the cycle
// skips live discovery for the day and logs a warning.
type ContactSourceFetcher struct {
	BaseURL string
	APIKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewContactSourceFetcher constructs a fetcher with a shared HTTP client.
func NewContactSourceFetcher(baseURL, apiKey string, log *slog.Logger) *ContactSourceFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &ContactSourceFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: httpTimeout},
		log:     log,
	}
}

// searchResponse mirrors the contact source's search payload.
type searchResponse struct {
	Profiles    []searchProfile `json:"profiles"`
	CreditsUsed int             `json:"credits_used"`
}

type searchProfile struct {
	FullName string `json:"full_name"`
	Title    string `json:"title"`
	Email    string `json:"email"`
	Company  string `json:"company"`
}

type quotaResponse struct {
	Remaining int `json:"remaining"`
}

func (f *ContactSourceFetcher) FindContacts(ctx context.Context, q SearchQuery) ([]model.SearchResult, int, error) {
	if f.APIKey == "" {
		f.log.Warn("CONTACT_SOURCE_KEY not set, skipping live discovery")
		return nil, 0, nil
	}

	params := url.Values{}
	params.Set("company", q.Company)
	params.Set("q", q.Term)
	params.Set("role_filter", strconv.FormatBool(q.RoleFiltered))
	params.Set("require_email", strconv.FormatBool(q.RequireEmail))
	params.Set("exclude_senior", strconv.FormatBool(q.ExcludeSenior))
	params.Set("limit", strconv.Itoa(q.MaxResults))

	var resp searchResponse
	if err := f.get(ctx, "/people/search?"+params.Encode(), &resp); err != nil {
		return nil, 0, fmt.Errorf("contact search %q at %s: %w", q.Term, q.Company, err)
	}

	results := make([]model.SearchResult, 0, len(resp.Profiles))
	for _, p := range resp.Profiles {
		results = append(results, model.SearchResult{
			Name:     p.FullName,
			Title:    p.Title,
			Email:    p.Email,
			Fallback: !q.RoleFiltered,
		})
	}
	return results, resp.CreditsUsed, nil
}

func (f *ContactSourceFetcher) RemoteQuota(ctx context.Context) (int, error) {
	if f.APIKey == "" {
		return 0, fmt.Errorf("contact source credentials not configured")
	}
	var resp quotaResponse
	if err := f.get(ctx, "/account/quota", &resp); err != nil {
		return 0, fmt.Errorf("remote quota read: %w", err)
	}
	return resp.Remaining, nil
}

// StillListed is the lightweight existence check: does the name appear in
// the company's cached people directory. Costs no credits.
func (f *ContactSourceFetcher) StillListed(ctx context.Context, company, name string) (bool, error) {
	if f.APIKey == "" {
		return true, nil // cannot check; treat as unchanged
	}
	params := url.Values{}
	params.Set("company", company)
	params.Set("name", name)

	var resp struct {
		Listed bool `json:"listed"`
	}
	if err := f.get(ctx, "/people/listed?"+params.Encode(), &resp); err != nil {
		return false, fmt.Errorf("existence check for %s at %s: %w", name, company, err)
	}
	return resp.Listed, nil
}

// Revisit re-reads a cached profile in full. Returns nil when the person
// no longer belongs to the company. Costs no credits (cached profile).
func (f *ContactSourceFetcher) Revisit(ctx context.Context, c model.Contact) (*model.Contact, error) {
	if f.APIKey == "" {
		return &c, nil // cannot check; treat as unchanged
	}
	params := url.Values{}
	params.Set("email", c.Email)

	var resp struct {
		Found   bool   `json:"found"`
		Company string `json:"company"`
		Title   string `json:"title"`
		Email   string `json:"email"`
	}
	if err := f.get(ctx, "/people/profile?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("profile revisit for %s: %w", c.Email, err)
	}
	if !resp.Found || resp.Company != c.Company {
		return nil, nil
	}
	updated := c
	if resp.Email != "" {
		updated.Email = resp.Email
	}
	if resp.Title != "" {
		updated.Title = resp.Title
	}
	return &updated, nil
}

func (f *ContactSourceFetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("contact source returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}
