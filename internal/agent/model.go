package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/midnight/internal/config"
	"github.com/fentz26/midnight/internal/models"
)

// invokeRequest is the wire format of the model-invocation boundary.
type invokeRequest struct {
	Model  string `json:"model"`
	Effort string `json:"effort,omitempty"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

type invokeResponse struct {
	Content string `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// invoker makes one model-provider call. Shared by both roles; the role
// difference is entirely in construction data (model, effort, prompts).
type invoker struct {
	url        string
	model      string
	effort     string
	httpClient *http.Client
}

func newInvoker(url, model, effort string, timeout time.Duration) *invoker {
	return &invoker{
		url:    url,
		model:  model,
		effort: effort,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// invoke posts one request to the provider. All failures, timeouts
// included, wrap ErrAgent.
func (inv *invoker) invoke(ctx context.Context, system, prompt string) (*invokeResponse, error) {
	body, err := json.Marshal(invokeRequest{
		Model:  inv.model,
		Effort: inv.effort,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrAgent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrAgent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgent, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrAgent, resp.StatusCode, string(msg))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrAgent, err)
	}
	return &out, nil
}

const actorSystem = `You are the actor tier of an autonomous development factory. ` +
	`Produce a complete candidate change for the task. Respond with the change ` +
	`payload followed by a line "RATIONALE:" and a short rationale.`

// ModelActor is the provider-backed Actor.
type ModelActor struct {
	inv *invoker
}

// NewActor builds the actor from factory configuration.
func NewActor(cfg *config.Config) *ModelActor {
	return &ModelActor{
		inv: newInvoker(cfg.ProviderURL, cfg.ActorModel, "", cfg.AgentTimeout()),
	}
}

// Act produces a candidate result for the task. feedback carries the
// sentinel notes from the prior rejected attempt, empty on the first.
func (a *ModelActor) Act(ctx context.Context, task *models.Task, feedback string) (*models.CandidateResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if task.Scope != "" {
		fmt.Fprintf(&b, "Scope: %s\n", task.Scope)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nPrior attempt was rejected with this review feedback; address it:\n%s\n", feedback)
	}

	resp, err := a.inv.invoke(ctx, actorSystem, b.String())
	if err != nil {
		return nil, err
	}

	payload, rationale := splitRationale(resp.Content)
	return &models.CandidateResult{
		TaskID:       task.ID,
		Attempt:      task.Attempt,
		Payload:      payload,
		Rationale:    rationale,
		Model:        a.inv.model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func splitRationale(content string) (payload, rationale string) {
	idx := strings.LastIndex(content, "RATIONALE:")
	if idx < 0 {
		return strings.TrimSpace(content), ""
	}
	return strings.TrimSpace(content[:idx]), strings.TrimSpace(content[idx+len("RATIONALE:"):])
}

const sentinelSystem = `You are the sentinel tier of an autonomous development factory. ` +
	`Review the candidate change for the task and score its quality. Respond with ` +
	`JSON only: {"score": <0-100 integer>, "notes": "<actionable review notes>"}.`

// ModelSentinel is the provider-backed Sentinel. It runs the configured
// sentinel model at the configured effort.
type ModelSentinel struct {
	inv *invoker
}

// NewSentinel builds the sentinel from factory configuration.
func NewSentinel(cfg *config.Config) *ModelSentinel {
	return &ModelSentinel{
		inv: newInvoker(cfg.ProviderURL, cfg.SentinelModel, cfg.SentinelEffort, cfg.AgentTimeout()),
	}
}

// Review scores the candidate. A response that does not contain a valid
// score is a provider failure, not a quality verdict.
func (s *ModelSentinel) Review(ctx context.Context, task *models.Task, cand *models.CandidateResult) (*models.QualityReview, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if task.Scope != "" {
		fmt.Fprintf(&b, "Scope: %s\n", task.Scope)
	}
	fmt.Fprintf(&b, "\nCandidate change:\n%s\n", cand.Payload)
	if cand.Rationale != "" {
		fmt.Fprintf(&b, "\nActor rationale:\n%s\n", cand.Rationale)
	}

	resp, err := s.inv.invoke(ctx, sentinelSystem, b.String())
	if err != nil {
		return nil, err
	}

	score, notes, err := parseVerdict(resp.Content)
	if err != nil {
		return nil, err
	}
	return &models.QualityReview{
		TaskID:   task.ID,
		Attempt:  cand.Attempt,
		Score:    score,
		Notes:    notes,
		Reviewer: s.inv.model,
	}, nil
}

// parseVerdict extracts {score, notes} from the sentinel content, which
// may be wrapped in prose or code fences.
func parseVerdict(content string) (int, string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return 0, "", fmt.Errorf("%w: no verdict JSON in sentinel response", ErrAgent)
	}

	var verdict struct {
		Score int    `json:"score"`
		Notes string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return 0, "", fmt.Errorf("%w: decode verdict: %v", ErrAgent, err)
	}
	if verdict.Score < 0 || verdict.Score > 100 {
		return 0, "", fmt.Errorf("%w: verdict score %d out of range", ErrAgent, verdict.Score)
	}
	return verdict.Score, verdict.Notes, nil
}
