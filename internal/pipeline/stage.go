package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adamass/diligence-cli/internal/config"
	"github.com/adamass/diligence-cli/internal/contract"
	"github.com/adamass/diligence-cli/internal/model"
	"github.com/adamass/diligence-cli/internal/resilience"
	"github.com/adamass/diligence-cli/pkg/anthropic"
)

// stageTemperature keeps stage output deterministic enough for schema
// adherence while leaving room for analytical phrasing.
const stageTemperature = 0.2

// StageRunner executes a single transformation stage: it submits the
// assembled input to the completion service under the stage's contract and
// converts the response into a Section. All failure modes are captured in
// the Section; Run never returns an error.
type StageRunner struct {
	client    anthropic.Client
	contracts *contract.Registry
	models    config.AnthropicConfig
	limiter   *rate.Limiter
	timeout   time.Duration
}

// NewStageRunner wires a runner from the completion client, the contract
// registry, and pipeline tuning. The rate limiter is shared across
// concurrent stages so the fan-out respects one service-wide budget.
func NewStageRunner(client anthropic.Client, contracts *contract.Registry, cfg *config.Config) *StageRunner {
	rpm := cfg.Anthropic.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	timeout := time.Duration(cfg.Pipeline.StageTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &StageRunner{
		client:    client,
		contracts: contracts,
		models:    cfg.Anthropic,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		timeout:   timeout,
	}
}

// Run executes one stage against a non-empty input and returns its Section.
// Empty responses and unparseable or schema-violating output become Section
// failures, never errors; the raw text is logged at debug for diagnosis but
// kept out of the result.
func (sr *StageRunner) Run(ctx context.Context, stage string, input json.RawMessage) model.Section {
	log := zap.L().With(zap.String("stage", stage))

	c, err := sr.contracts.Get(stage)
	if err != nil {
		return failedStage(stage, err)
	}
	modelID := sr.models.ModelForTier(c.Tier)

	ctx, cancel := context.WithTimeout(ctx, sr.timeout)
	defer cancel()

	if err := sr.limiter.Wait(ctx); err != nil {
		return failedStage(stage, eris.Wrap(err, "rate limit wait"))
	}

	retryCfg := resilience.DefaultRetryConfig("anthropic:" + stage)
	if sr.models.MaxRetries > 0 {
		retryCfg.MaxAttempts = sr.models.MaxRetries
	}

	temp := stageTemperature
	start := time.Now()
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return sr.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       modelID,
			MaxTokens:   c.MaxTokens,
			System:      c.Instructions,
			Temperature: &temp,
			Messages: []anthropic.Message{
				{Role: "user", Content: c.BuildPrompt(input)},
			},
		})
	})
	if err != nil {
		log.Warn("stage: completion call failed",
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return failedStage(stage, err)
	}
	resp.Usage.LogCost(modelID, stage)

	text := extractText(resp)
	if text == "" {
		return failedStage(stage, eris.New("completion service returned no content"))
	}

	doc := cleanJSON(text)
	if err := c.ValidateResponse([]byte(doc)); err != nil {
		log.Debug("stage: discarding invalid response", zap.String("raw", text))
		return failedStage(stage, err)
	}

	log.Info("stage: complete",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("response_bytes", len(doc)),
	)
	return model.Success(json.RawMessage(doc))
}

// failedStage formats the stable per-stage failure message carried in the
// report's {"error": ...} slot.
func failedStage(stage string, err error) model.Section {
	return model.Failure(fmt.Sprintf("Failed to process %s analysis: %v", stage, err))
}

// extractText concatenates the text blocks of a completion response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
