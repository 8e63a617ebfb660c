package match

// Response is the payload shared by the local and hybrid match paths.
type Response struct {
	Query    string       `json:"query"`
	Total    int          `json:"total,omitempty"`
	Top      []*Candidate `json:"top"`
	Decision *Decision    `json:"decision,omitempty"`
	Metadata any          `json:"metadata,omitempty"`
}

// Confidence returns the decision confidence, or zero without a decision.
func (r *Response) Confidence() float64 {
	if r == nil || r.Decision == nil {
		return 0
	}
	return r.Decision.Confidence
}

// IsDirect reports whether the response was accepted without escalation.
func (r *Response) IsDirect() bool {
	return r != nil && r.Decision != nil && r.Decision.Mode == ModeDirect
}
