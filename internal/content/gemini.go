package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"recruitflow/outreach-service/internal/quota"
)

// jobTextLimit bounds how much of the job description enters the prompt.
const jobTextLimit = 4000

// ModelGate charges one generation call against a model's daily ledger
// bucket. Returns quota.ErrExhausted when the model's cap is spent.
type ModelGate interface {
	Debit(ctx context.Context, model string) error
}

// Generator produces bundles through Gemini with a primary → fallback
// model chain. Cache hits cost nothing and are checked first.
type Generator struct {
	client   *genai.Client
	cache    *Cache
	gate     ModelGate
	primary  string
	fallback string
	log      *slog.Logger
}

// NewGenerator builds the Gemini client and wraps it with cache and gate.
func NewGenerator(ctx context.Context, apiKey string, cache *Cache, gate ModelGate, primary, fallback string, log *slog.Logger) (*Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{client: client, cache: cache, gate: gate, primary: primary, fallback: fallback, log: log}, nil
}

// Generate returns the bundle for (company, title, jobText), producing and
// caching it when absent. A nil jobText selects the role-based fallback
// prompt and the distinct role: key namespace. Returns quota.ErrExhausted
// when every model's daily cap is spent.
func (g *Generator) Generate(ctx context.Context, company, title string, jobText *string) (*Bundle, error) {
	var key, prompt string
	if jobText != nil && *jobText != "" {
		key = JDKey(company, title, *jobText)
		prompt = jdPrompt(company, title, *jobText)
	} else {
		key = RoleKey(company, title)
		prompt = rolePrompt(company, title)
	}

	cached, err := g.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	for _, model := range []string{g.primary, g.fallback} {
		if err := g.gate.Debit(ctx, model); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				g.log.Info("model quota exhausted, trying next", "model", model, "company", company)
				continue
			}
			return nil, err
		}

		bundle, err := g.callModel(ctx, model, prompt)
		if err != nil {
			g.log.Warn("generation failed", "model", model, "company", company, "err", err)
			continue
		}

		if err := g.cache.Put(ctx, key, *bundle); err != nil {
			g.log.Warn("content cache write failed", "company", company, "err", err)
		}
		return bundle, nil
	}

	return nil, fmt.Errorf("generate content for %s: %w", company, quota.ErrExhausted)
}

func (g *Generator) callModel(ctx context.Context, model, prompt string) (*Bundle, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	bundle, err := parseBundle(resp.Text())
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// parseBundle decodes the model's strict-JSON reply, tolerating markdown
// code fences around the object.
func parseBundle(text string) (*Bundle, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var b Bundle
	if err := json.Unmarshal([]byte(text), &b); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	if !b.Complete() {
		return nil, fmt.Errorf("model reply missing stage content")
	}
	return &b, nil
}

func jdPrompt(company, title, jobText string) string {
	if len(jobText) > jobTextLimit {
		jobText = jobText[:jobTextLimit]
	}
	return fmt.Sprintf(`You are helping a software engineer write short recruiter outreach emails for a specific role.
Generate subject lines and bodies for an initial email and two follow-ups, grounded in the job description below.

Company: %s
Job Title: %s

Job Description:
%s

Return STRICT JSON with exactly these keys:
{"subject_initial": "...", "subject_followup1": "...", "subject_followup2": "...", "intro": "...", "followup1": "...", "followup2": "..."}

Rules:
- Professional tone, no emojis
- Each body under 120 words, each subject under 10 words
- Return ONLY valid JSON`, company, title, jobText)
}

func rolePrompt(company, title string) string {
	return fmt.Sprintf(`You are helping a software engineer write short recruiter outreach emails.
No job description is available; write role-based copy for the position below.
Generate subject lines and bodies for an initial email and two follow-ups.

Company: %s
Job Title: %s

Return STRICT JSON with exactly these keys:
{"subject_initial": "...", "subject_followup1": "...", "subject_followup2": "...", "intro": "...", "followup1": "...", "followup2": "..."}

Rules:
- Professional tone, no emojis
- Each body under 120 words, each subject under 10 words
- Return ONLY valid JSON`, company, title)
}
