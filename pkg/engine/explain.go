package engine

import (
	"context"

	"github.com/tunogya/fractal/pkg/explain"
	"github.com/tunogya/fractal/pkg/model"
)

// ExplainResponse is a match response together with its descriptive explanation
type ExplainResponse struct {
	*model.MatchResponse
	Explanation *explain.Explanation `json:"explanation,omitempty"`
}

// Explain runs Match and describes the result: the regime of the current window,
// a confidence label, the regime of every match and caveats. Responses that are not
// OK carry no explanation.
func (e *Engine) Explain(ctx context.Context, req model.MatchRequest) (*ExplainResponse, error) {
	resp, working, err := e.observe(ctx, &req)
	if err != nil {
		return nil, err
	}

	out := &ExplainResponse{MatchResponse: resp}
	if !resp.OK {
		return out, nil
	}

	out.Explanation = e.explainer.BuildExplanation(
		resp.Matches,
		working.Closes,
		working.Timestamps,
		resp.ForwardStats,
		resp.Confidence,
		req.WindowLen,
		req.ForwardHorizonDays,
	)
	return out, nil
}
