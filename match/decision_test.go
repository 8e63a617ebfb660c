package match

import (
	"context"
	"strings"
	"testing"

	"fault-matcher/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeArbitrator struct {
	answer  Arbitration
	calls   int
	offered []Choice
}

func (f *fakeArbitrator) Pick(_ context.Context, _ string, choices []Choice) Arbitration {
	f.calls++
	f.offered = choices
	return f.answer
}

func scored(id string, score float64) *Candidate {
	return &Candidate{Record: catalog.Record{ID: id, Text: "fault " + id}, FinalScore: score}
}

func newTestRouter(arb Arbitrator) *Router {
	logger, _ := zap.NewDevelopment()
	return NewRouter(DefaultThresholds(), arb, logger)
}

func TestDecideScenarioDirect(t *testing.T) {
	arb := &fakeArbitrator{}
	d := newTestRouter(arb).Decide(context.Background(), "q", []*Candidate{scored("A", 0.90)}, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeDirect, d.Mode)
	require.NotNil(t, d.ChosenID)
	assert.Equal(t, "A", *d.ChosenID)
	assert.Equal(t, 0.90, d.Confidence)
	assert.Zero(t, arb.calls)
}

func TestDecideScenarioArbitrated(t *testing.T) {
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: "A", Confidence: 0.5, Reason: "same symptom"}}
	d := newTestRouter(arb).Decide(context.Background(), "q", []*Candidate{scored("A", 0.70)}, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeLLMResolved, d.Mode)
	require.NotNil(t, d.ChosenID)
	assert.Equal(t, "A", *d.ChosenID)
	assert.Equal(t, 0.70, d.Confidence)
	require.NotNil(t, d.Arbitration)
	assert.Equal(t, 0.5, d.Arbitration.Confidence)
	assert.Equal(t, 1, arb.calls)
}

func TestDecideScenarioEmptyPool(t *testing.T) {
	d := newTestRouter(nil).Decide(context.Background(), "q", nil, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeNoMatch, d.Mode)
	assert.Nil(t, d.ChosenID)
	assert.Zero(t, d.Confidence)
}

func TestDecideArbitratedConfidenceTakesMax(t *testing.T) {
	ranked := []*Candidate{scored("A", 0.75), scored("B", 0.70), scored("C", 0.1)}
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: "B", Confidence: 0.95}}

	d := newTestRouter(arb).Decide(context.Background(), "q", ranked, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeLLMResolved, d.Mode)
	assert.Equal(t, "B", *d.ChosenID)
	assert.Equal(t, 0.95, d.Confidence)
	require.Len(t, d.Alternatives, 2)
	assert.Equal(t, "A", d.Alternatives[0].ID)
	assert.Equal(t, "C", d.Alternatives[1].ID)
}

func TestDecideArbitratorNoSelectionRejects(t *testing.T) {
	ranked := []*Candidate{scored("A", 0.7), scored("B", 0.6), scored("C", 0.5), scored("D", 0.4)}
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: NoSelection, Reason: "error"}}

	d := newTestRouter(arb).Decide(context.Background(), "q", ranked, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeReject, d.Mode)
	assert.Nil(t, d.ChosenID)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, []string{"fault A", "fault B", "fault C"}, d.Suggestions)
	require.NotNil(t, d.Arbitration)
	assert.Equal(t, "error", d.Arbitration.Reason)
}

func TestDecideRejectsIDOutsideOffer(t *testing.T) {
	ranked := []*Candidate{scored("A", 0.7), scored("B", 0.69), scored("C", 0.68)}
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: "C", Confidence: 0.9}}

	d := newTestRouter(arb).Decide(context.Background(), "q", ranked, DecideOptions{Arbitrate: true, TopN: 2})

	assert.Len(t, arb.offered, 2)
	assert.Equal(t, ModeReject, d.Mode, "C was never offered")
}

func TestDecideWithoutArbitratorRejects(t *testing.T) {
	d := newTestRouter(nil).Decide(context.Background(), "q", []*Candidate{scored("A", 0.7)}, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeReject, d.Mode)
	require.NotNil(t, d.Arbitration)
	assert.Equal(t, "not configured", d.Arbitration.Reason)
}

func TestDecideGrayWithoutArbitration(t *testing.T) {
	ranked := []*Candidate{scored("A", 0.7), scored("B", 0.6)}
	arb := &fakeArbitrator{}

	d := newTestRouter(arb).Decide(context.Background(), "q", ranked, DecideOptions{})

	assert.Equal(t, ModeGray, d.Mode)
	assert.Equal(t, "A", *d.ChosenID)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Len(t, d.Alternatives, 1)
	assert.Zero(t, arb.calls)
}

func TestDecideLowScoreSkipsArbitration(t *testing.T) {
	long := scored("A", 0.3)
	long.Text = strings.Repeat("长", 80)
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: "A", Confidence: 1}}

	d := newTestRouter(arb).Decide(context.Background(), "q", []*Candidate{long}, DecideOptions{Arbitrate: true})

	assert.Equal(t, ModeReject, d.Mode)
	assert.Zero(t, arb.calls)
	require.Len(t, d.Suggestions, 1)
	assert.Equal(t, strings.Repeat("长", 50)+"...", d.Suggestions[0])
}

func TestDecideMonotonicInTopScore(t *testing.T) {
	th := DefaultThresholds()
	router := newTestRouter(&fakeArbitrator{answer: Arbitration{ChosenID: NoSelection}})

	for s := 0.0; s <= 1.0; s += 0.01 {
		d := router.Decide(context.Background(), "q", []*Candidate{scored("A", s)}, DecideOptions{Arbitrate: true})
		switch {
		case s >= th.Pass:
			assert.Equal(t, ModeDirect, d.Mode, "score %v", s)
		case s < th.GrayLow:
			assert.Contains(t, []Mode{ModeReject, ModeNoMatch}, d.Mode, "score %v", s)
		}
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
}

func TestDecideOffersTruncatedTexts(t *testing.T) {
	c := scored("A", 0.7)
	c.Text = strings.Repeat("x", 400)
	arb := &fakeArbitrator{answer: Arbitration{ChosenID: NoSelection}}

	newTestRouter(arb).Decide(context.Background(), "q", []*Candidate{c}, DecideOptions{Arbitrate: true, ChoiceRunes: 300})

	require.Len(t, arb.offered, 1)
	assert.Len(t, arb.offered[0].Text, 300)
}

func TestResponseHelpers(t *testing.T) {
	var nilResp *Response
	assert.Zero(t, nilResp.Confidence())
	assert.False(t, nilResp.IsDirect())

	r := &Response{Decision: &Decision{Mode: ModeDirect, Confidence: 0.9}}
	assert.Equal(t, 0.9, r.Confidence())
	assert.True(t, r.IsDirect())
}
