package match

import (
	"context"
	"fmt"

	"fault-matcher/utils"

	"go.uber.org/zap"
)

// Mode is the outcome class of a match decision.
type Mode string

const (
	ModeNoMatch     Mode = "NO_MATCH"
	ModeDirect      Mode = "DIRECT"
	ModeGray        Mode = "GRAY"
	ModeLLMResolved Mode = "LLM_RESOLVED"
	ModeReject      Mode = "REJECT"
)

// NoSelection is the arbitrator's answer when none of the offered choices fit.
const NoSelection = "UNKNOWN"

// ReasonNotConfigured marks a verdict produced without asking any model.
const ReasonNotConfigured = "not configured"

const (
	suggestionCount     = 3
	suggestionRunes     = 50
	alternativeCount    = 3
	alternativeRunes    = 100
	defaultChoiceRunes  = 300
	defaultPassScore    = 0.84
	defaultGrayLowScore = 0.65
)

// Thresholds split the top score into accept, gray and reject bands.
type Thresholds struct {
	Pass    float64
	GrayLow float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Pass: defaultPassScore, GrayLow: defaultGrayLowScore}
}

// Choice is one candidate offered to the arbitrator.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Arbitration is the validated answer of a closed-set arbitrator.
type Arbitration struct {
	ChosenID   string  `json:"chosen_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Selected reports whether the arbitrator picked one of the choices.
func (a Arbitration) Selected() bool {
	return a.ChosenID != "" && a.ChosenID != NoSelection
}

// Arbitrator picks one of the offered choices or NoSelection. Implementations
// never fail; errors come back as NoSelection with zero confidence.
type Arbitrator interface {
	Pick(ctx context.Context, query string, choices []Choice) Arbitration
}

// Alternative is a runner-up listed next to a decision.
type Alternative struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Decision is the terminal routing result for one request.
type Decision struct {
	Mode         Mode          `json:"mode"`
	ChosenID     *string       `json:"chosen_id"`
	Confidence   float64       `json:"confidence"`
	Reason       string        `json:"reason,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Suggestions  []string      `json:"suggestions,omitempty"`
	Arbitration  *Arbitration  `json:"arbitration,omitempty"`
}

// DecideOptions tune a single routing call.
type DecideOptions struct {
	// Arbitrate escalates gray-zone scores to the arbitrator. When false a
	// gray-zone score ends in ModeGray for manual confirmation.
	Arbitrate bool
	// TopN caps how many ranked candidates are offered; zero offers all.
	TopN int
	// ChoiceRunes caps each offered text; zero uses the default.
	ChoiceRunes int
}

// Router turns a ranked pool into a Decision.
type Router struct {
	thresholds Thresholds
	arbitrator Arbitrator
	logger     *zap.Logger
}

// NewRouter builds a router. arbitrator may be nil, in which case gray-zone
// escalations resolve as NoSelection.
func NewRouter(thresholds Thresholds, arbitrator Arbitrator, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{thresholds: thresholds, arbitrator: arbitrator, logger: logger}
}

// Decide routes ranked, which must already be sorted by final score.
func (r *Router) Decide(ctx context.Context, query string, ranked []*Candidate, opts DecideOptions) Decision {
	if len(ranked) == 0 {
		return Decision{Mode: ModeNoMatch, Confidence: 0, Reason: "no candidates"}
	}

	top1 := ranked[0]
	score := top1.FinalScore

	if score >= r.thresholds.Pass {
		id := top1.ID
		return Decision{
			Mode:       ModeDirect,
			ChosenID:   &id,
			Confidence: score,
			Reason:     fmt.Sprintf("high confidence match (score: %.3f)", score),
		}
	}

	if score < r.thresholds.GrayLow {
		return reject(ranked, score, fmt.Sprintf("confidence too low (score: %.3f)", score), nil)
	}

	if !opts.Arbitrate {
		id := top1.ID
		return Decision{
			Mode:         ModeGray,
			ChosenID:     &id,
			Confidence:   score,
			Reason:       fmt.Sprintf("gray zone match, manual confirmation advised (score: %.3f)", score),
			Alternatives: alternatives(ranked, id),
		}
	}

	choices := offer(ranked, opts)
	verdict := r.arbitrate(ctx, query, choices)

	if chosen := find(ranked, choices, verdict.ChosenID); chosen != nil {
		id := chosen.ID
		confidence := max(verdict.Confidence, chosen.FinalScore, score)
		reason := verdict.Reason
		if reason == "" {
			reason = "resolved by arbitrator"
		}
		return Decision{
			Mode:         ModeLLMResolved,
			ChosenID:     &id,
			Confidence:   confidence,
			Reason:       reason,
			Alternatives: alternatives(ranked, id),
			Arbitration:  &verdict,
		}
	}

	r.logger.Debug("Gray zone match left unresolved",
		zap.Float64("top_score", score),
		zap.String("arbitrator_reason", verdict.Reason))
	return reject(ranked, score, fmt.Sprintf("ambiguous match not resolved (score: %.3f)", score), &verdict)
}

func (r *Router) arbitrate(ctx context.Context, query string, choices []Choice) Arbitration {
	if r.arbitrator == nil {
		return Arbitration{ChosenID: NoSelection, Reason: ReasonNotConfigured}
	}
	verdict := r.arbitrator.Pick(ctx, query, choices)
	verdict.Confidence = Clamp01(verdict.Confidence)
	if verdict.ChosenID == "" {
		verdict.ChosenID = NoSelection
	}
	return verdict
}

func offer(ranked []*Candidate, opts DecideOptions) []Choice {
	n := len(ranked)
	if opts.TopN > 0 && opts.TopN < n {
		n = opts.TopN
	}
	runes := opts.ChoiceRunes
	if runes <= 0 {
		runes = defaultChoiceRunes
	}
	choices := make([]Choice, 0, n)
	for _, c := range ranked[:n] {
		choices = append(choices, Choice{ID: c.ID, Text: utils.Truncate(c.Text, runes)})
	}
	return choices
}

// find returns the ranked candidate for id, provided id was actually offered.
func find(ranked []*Candidate, offered []Choice, id string) *Candidate {
	if id == "" || id == NoSelection {
		return nil
	}
	inOffer := false
	for _, ch := range offered {
		if ch.ID == id {
			inOffer = true
			break
		}
	}
	if !inOffer {
		return nil
	}
	for _, c := range ranked {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func reject(ranked []*Candidate, score float64, reason string, verdict *Arbitration) Decision {
	n := min(suggestionCount, len(ranked))
	suggestions := make([]string, 0, n)
	for _, c := range ranked[:n] {
		suggestions = append(suggestions, utils.Ellipsize(c.Text, suggestionRunes))
	}
	return Decision{
		Mode:        ModeReject,
		Confidence:  score,
		Reason:      reason,
		Suggestions: suggestions,
		Arbitration: verdict,
	}
}

func alternatives(ranked []*Candidate, chosenID string) []Alternative {
	var alts []Alternative
	for _, c := range ranked {
		if c.ID == chosenID {
			continue
		}
		alts = append(alts, Alternative{
			ID:    c.ID,
			Text:  utils.Ellipsize(c.Text, alternativeRunes),
			Score: c.FinalScore,
		})
		if len(alts) == alternativeCount {
			break
		}
	}
	return alts
}
