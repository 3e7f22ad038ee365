// Package modelclient wraps the Vertex AI Gemini client (C7): a fresh
// client per call with region rotation, fixed generation config, exponential
// backoff independent of C4's schedule, content-policy terminal detection,
// and a JSON-repair pass over the response text. Grounded on
// gemini_caption/utils/gemini_api_client.py.
package modelclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"danbooru-captioner/internal/config"
	apperrors "danbooru-captioner/internal/errors"
	"danbooru-captioner/internal/metrics"
	"danbooru-captioner/internal/model"
	"danbooru-captioner/internal/util"
)

// Outcome is the result of a single captioning call: either a parsed
// caption (status 200), a terminal non-retryable failure (400/999), or an
// error after retries are exhausted (500).
type Outcome struct {
	StatusCode  int
	Caption     *model.Caption
	RawResponse string
	Error       string
	ErrorType   string
	ErrorStack  string
}

// Config configures a Client.
type Config struct {
	ModelID       string
	ProjectID     string
	Regions       []string
	RetryAttempts int
	RetryDelay    time.Duration
}

// Client invokes the Gemini model for image captioning.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewClient returns a Client. A nil/empty Regions list falls back to the
// 14 fixed GCP regions carried by the batch's default configuration.
// metricsReg may be nil to disable instrumentation.
func NewClient(cfg Config, logger *slog.Logger, metricsReg *metrics.Registry) *Client {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = config.DefaultRegions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, metrics: metricsReg}
}

func (c *Client) newUpstreamClient(ctx context.Context) (*genai.Client, string, error) {
	region := c.cfg.Regions[rand.Intn(len(c.cfg.Regions))]
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  c.cfg.ProjectID,
		Location: region,
	})
	return client, region, err
}

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdOff},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdOff},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdOff},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdOff},
	{Category: genai.HarmCategoryCivicIntegrity, Threshold: genai.HarmBlockThresholdOff},
}

// Caption invokes the model on prompt+image, retrying with exponential
// backoff (retryDelay·2^attempt, independent of C4's fixed schedule) and a
// freshly constructed client (freshly re-sampled region) on every attempt,
// including the first.
func (c *Client) Caption(ctx context.Context, prompt string, imageBytes []byte, mime string) Outcome {
	taskID := uuid.NewString()[:8]
	log := c.logger.With("task_id", taskID)
	log.Info("starting model call")

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ModelCallSecs.Observe(time.Since(start).Seconds())
		}
	}()

	var lastErr error
	var lastErrType string
	var lastErrStack string

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{StatusCode: 500, Error: err.Error(), ErrorType: "ContextCanceled"}
		}

		client, region, err := c.newUpstreamClient(ctx)
		if err != nil {
			lastErr, lastErrType = err, "ClientConstructionError"
			log.Warn("failed to construct model client, retrying", "attempt", attempt, "err", err)
			c.delayRetry(ctx, attempt)
			continue
		}
		log.Debug("invoking model", "attempt", attempt, "region", region)

		resp, err := client.Models.GenerateContent(ctx, c.cfg.ModelID, []*genai.Content{
			{Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: imageBytes, MIMEType: mime}},
			}},
		}, &genai.GenerateContentConfig{
			MaxOutputTokens: 4096,
			SafetySettings:  safetySettings,
		})
		if err != nil {
			lastErr = err
			lastErrType = classifyErrType(err)
			lastErrStack = string(debug.Stack())
			if isAuthScopeError(err) {
				log.Error("OAuth scope error, check service account permissions", "err", err)
			} else {
				log.Warn("model call error, retrying", "attempt", attempt, "err", err)
			}
			c.delayRetry(ctx, attempt)
			continue
		}

		if resp == nil {
			lastErr = fmt.Errorf("nil response")
			lastErrType = "EmptyResponse"
			log.Warn("model returned nil response, retrying", "attempt", attempt)
			c.delayRetry(ctx, attempt)
			continue
		}

		text := responseText(resp)
		if text == "" {
			if reason, terminal := terminalFinishReason(resp); terminal {
				log.Warn("content blocked by safety filter, not retrying", "reason", reason)
				return Outcome{
					StatusCode: 999,
					Error:      fmt.Sprintf("content policy violation: %s", reason),
					ErrorType:  "ContentPolicyViolation",
				}
			}
			lastErr = fmt.Errorf("empty response text")
			lastErrType = "EmptyResponseText"
			log.Warn("model returned empty text, retrying", "attempt", attempt)
			c.delayRetry(ctx, attempt)
			continue
		}

		return c.parseCaption(text, log)
	}

	errMsg := "all model call attempts failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	log.Error("all model call retries exhausted", "err", errMsg)
	return Outcome{
		StatusCode: 500,
		Error:      fmt.Sprintf("model call failed: %s", errMsg),
		ErrorType:  lastErrType,
		ErrorStack: lastErrStack,
	}
}

func (c *Client) parseCaption(raw string, log *slog.Logger) Outcome {
	repaired := repairJSON(raw)
	var caption model.Caption
	if err := json.Unmarshal([]byte(repaired), &caption); err != nil {
		log.Warn("caption JSON parse failed", "err", err)
		return Outcome{
			StatusCode:  400,
			RawResponse: raw,
			Error:       fmt.Sprintf("JSON parse failed: %s", err.Error()),
			ErrorType:   "JSONParseError",
		}
	}
	return Outcome{StatusCode: 200, Caption: &caption, RawResponse: raw}
}

func (c *Client) delayRetry(ctx context.Context, attempt int) {
	delay := c.cfg.RetryDelay * time.Duration(1<<uint(attempt))
	util.SleepWithContext(ctx, delay)
}

func responseText(resp *genai.GenerateContentResponse) string {
	return resp.Text()
}

func terminalFinishReason(resp *genai.GenerateContentResponse) (string, bool) {
	for _, cand := range resp.Candidates {
		switch cand.FinishReason {
		case genai.FinishReasonProhibitedContent:
			return "PROHIBITED_CONTENT", true
		case genai.FinishReasonSafety:
			return "SAFETY", true
		}
	}
	return "", false
}

func classifyErrType(err error) string {
	if isAuthScopeError(err) {
		return "AuthScopeError"
	}
	return "UpstreamError"
}

func isAuthScopeError(err error) bool {
	if err == nil {
		return false
	}
	cls := apperrors.ClassifyTransportError(err.Error())
	return cls.Category == "auth_scope"
}
