package arbitrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "fault-matcher/errors"
	"fault-matcher/match"
	"fault-matcher/metrics"
	"fault-matcher/utils"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const (
	defaultTimeout       = 20 * time.Second
	defaultMaxCandidates = 5
	defaultMaxText       = 200

	reasonError = "error"
)

const systemPrompt = `You normalize automotive fault descriptions. Choose exactly one candidate id that describes the same fault as the user's input, or answer UNKNOWN when none does.
Only output JSON: {"chosen_id":"<id or UNKNOWN>","confidence":<0-1>,"why":"<at most 20 characters>"}`

// Config describes the arbitrator endpoint. Any empty field of BaseURL,
// APIKey and Model disables arbitration.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxCandidates int
	MaxTextRunes  int
}

// Configured reports whether every connection field is present.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.Model != ""
}

// Client is a closed-set arbitrator backed by an OpenAI-compatible chat model.
type Client struct {
	cfg    Config
	pool   *Pool
	logger *zap.Logger
}

func NewClient(cfg Config, pool *Pool, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxText
	}
	if pool == nil {
		pool = NewPool(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, pool: pool, logger: logger}
}

// Pick asks the model to select one of choices. It never returns an error:
// failures come back as match.NoSelection with zero confidence.
func (c *Client) Pick(ctx context.Context, query string, choices []match.Choice) match.Arbitration {
	if !c.cfg.Configured() {
		metrics.RecordArbitration("not_configured")
		return match.Arbitration{ChosenID: match.NoSelection, Reason: match.ReasonNotConfigured}
	}

	offered := c.sanitize(choices)
	if len(offered) == 0 {
		metrics.RecordArbitration("no_selection")
		return match.Arbitration{ChosenID: match.NoSelection, Reason: "no candidates"}
	}
	query = utils.Truncate(query, c.cfg.MaxTextRunes)

	verdict, err := c.ask(ctx, query, offered)
	if err != nil {
		c.logger.Warn("Arbitrator call failed",
			zap.String("model", c.cfg.Model),
			zap.Error(err))
		metrics.RecordArbitration("error")
		return match.Arbitration{ChosenID: match.NoSelection, Reason: reasonError}
	}

	checked, err := validate(verdict, offered)
	switch {
	case err != nil:
		c.logger.Warn("Arbitrator answer rejected",
			zap.Int("offered", len(offered)),
			zap.Error(err))
		metrics.RecordArbitration("contract_violation")
	case checked.Selected():
		metrics.RecordArbitration("selected")
	default:
		metrics.RecordArbitration("no_selection")
	}
	return checked
}

func (c *Client) sanitize(choices []match.Choice) []match.Choice {
	n := min(len(choices), c.cfg.MaxCandidates)
	offered := make([]match.Choice, 0, n)
	for _, ch := range choices[:n] {
		offered = append(offered, match.Choice{
			ID:   ch.ID,
			Text: utils.Truncate(ch.Text, c.cfg.MaxTextRunes),
		})
	}
	return offered
}

func (c *Client) ask(ctx context.Context, query string, offered []match.Choice) (match.Arbitration, error) {
	model, err := c.pool.Get(c.cfg.BaseURL, c.cfg.APIKey)
	if err != nil {
		return match.Arbitration{}, apperrors.WrapError(err, "create arbitrator client")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(query, offered)),
	}
	resp, err := model.GenerateContent(ctx, messages,
		llms.WithModel(c.cfg.Model),
		llms.WithTemperature(0.0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return match.Arbitration{}, apperrors.Categorize(apperrors.ErrTransient, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return match.Arbitration{}, fmt.Errorf("empty arbitrator response")
	}
	return parseVerdict(resp.Choices[0].Content)
}

func buildPrompt(query string, offered []match.Choice) string {
	var b strings.Builder
	b.WriteString("User input: ")
	b.WriteString(query)
	b.WriteString("\n\nCandidates (pick at most one):\n")
	for i, ch := range offered {
		fmt.Fprintf(&b, "%d) {id:%q, text:%q}\n", i+1, ch.ID, ch.Text)
	}
	return b.String()
}

// parseVerdict accepts loosely typed model output: ids may be numbers and
// confidence may be a string.
func parseVerdict(content string) (match.Arbitration, error) {
	content = stripFences(content)
	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return match.Arbitration{}, fmt.Errorf("decode arbitrator output: %w", err)
	}

	verdict := match.Arbitration{ChosenID: match.NoSelection}
	switch id := raw["chosen_id"].(type) {
	case string:
		if id = strings.TrimSpace(id); id != "" {
			verdict.ChosenID = id
		}
	case float64:
		verdict.ChosenID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	switch conf := raw["confidence"].(type) {
	case float64:
		verdict.Confidence = conf
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(conf), 64); err == nil {
			verdict.Confidence = f
		}
	}
	for _, key := range []string{"why", "reason"} {
		if s, ok := raw[key].(string); ok && s != "" {
			verdict.Reason = s
			break
		}
	}
	return verdict, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

// validate clamps confidence and forces answers outside the offered set to
// NoSelection, reporting those as ErrContractViolation.
func validate(verdict match.Arbitration, offered []match.Choice) (match.Arbitration, error) {
	verdict.Confidence = match.Clamp01(verdict.Confidence)
	if verdict.ChosenID == match.NoSelection {
		return verdict, nil
	}
	for _, ch := range offered {
		if ch.ID == verdict.ChosenID {
			return verdict, nil
		}
	}
	err := apperrors.Categorize(apperrors.ErrContractViolation,
		fmt.Errorf("chosen id %q was not offered", verdict.ChosenID))
	verdict.ChosenID = match.NoSelection
	verdict.Confidence = 0
	return verdict, err
}
