package work

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"survivald/internal/model"
)

// Source supplies raw opportunity candidates for one category and settles
// the ones the engine decides to execute. A discovery failure means "no
// opportunities from this source this cycle", never a failed tick.
type Source interface {
	Category() model.Category
	Name() string
	Discover(ctx context.Context) ([]model.WorkOpportunity, error)
	Execute(ctx context.Context, opp model.WorkOpportunity) (earnedUSD float64, err error)
}

// newOpportunity stamps a candidate with an ID and a one-cycle expiry.
func newOpportunity(cat model.Category, desc string, payoutUSD, durationMin float64, risk int, ttl time.Duration) model.WorkOpportunity {
	return model.WorkOpportunity{
		ID:                       uuid.NewString(),
		Category:                 cat,
		Description:              desc,
		EstimatedPayoutUSD:       payoutUSD,
		EstimatedDurationMinutes: durationMin,
		RiskLevel:                risk,
		ExpiresAt:                time.Now().Add(ttl),
	}
}

// candidate is the JSON shape task providers expose.
type candidate struct {
	Description     string  `json:"description"`
	PayoutUSD       float64 `json:"payout_usd"`
	DurationMinutes float64 `json:"duration_minutes"`
	RiskLevel       int     `json:"risk_level"`
}

// HTTPSource polls a task provider's REST API for open work in one
// category and settles executed work against the same API.
type HTTPSource struct {
	category model.Category
	baseURL  string
	client   *http.Client
	ttl      time.Duration
}

// NewHTTPSource creates a polling source for a category.
func NewHTTPSource(category model.Category, baseURL string, ttl time.Duration) *HTTPSource {
	return &HTTPSource{
		category: category,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		ttl:      ttl,
	}
}

func (s *HTTPSource) Category() model.Category { return s.category }
func (s *HTTPSource) Name() string             { return fmt.Sprintf("http-%s", s.category) }

func (s *HTTPSource) Discover(ctx context.Context) ([]model.WorkOpportunity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/opportunities", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", s.category, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover %s: status %d", s.category, resp.StatusCode)
	}
	var cands []candidate
	if err := json.NewDecoder(resp.Body).Decode(&cands); err != nil {
		return nil, fmt.Errorf("decode %s candidates: %w", s.category, err)
	}
	opps := make([]model.WorkOpportunity, 0, len(cands))
	for _, c := range cands {
		opps = append(opps, newOpportunity(s.category, c.Description, c.PayoutUSD, c.DurationMinutes, c.RiskLevel, s.ttl))
	}
	return opps, nil
}

func (s *HTTPSource) Execute(ctx context.Context, opp model.WorkOpportunity) (float64, error) {
	payload, err := json.Marshal(map[string]string{"description": opp.Description})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute %s: %w", opp.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("execute %s: status %d, body: %s", opp.ID, resp.StatusCode, string(body))
	}
	var result struct {
		EarnedUSD float64 `json:"earned_usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode execution result: %w", err)
	}
	return result.EarnedUSD, nil
}

// StaticSource serves a fixed candidate list; used in tests and as a
// stand-in when no provider is configured for a category.
type StaticSource struct {
	Cat        model.Category
	Candidates []model.WorkOpportunity
	EarnFn     func(ctx context.Context, opp model.WorkOpportunity) (float64, error)
}

func (s *StaticSource) Category() model.Category { return s.Cat }
func (s *StaticSource) Name() string             { return fmt.Sprintf("static-%s", s.Cat) }

func (s *StaticSource) Discover(_ context.Context) ([]model.WorkOpportunity, error) {
	out := make([]model.WorkOpportunity, len(s.Candidates))
	copy(out, s.Candidates)
	return out, nil
}

func (s *StaticSource) Execute(ctx context.Context, opp model.WorkOpportunity) (float64, error) {
	if s.EarnFn != nil {
		return s.EarnFn(ctx, opp)
	}
	return opp.EstimatedPayoutUSD, nil
}
