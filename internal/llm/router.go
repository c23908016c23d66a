package llm

import (
	"context"
	"fmt"
)

// ModelPrice holds per-million-token pricing for cost accounting.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPrices covers the models the default tier table routes to. Unknown
// models cost zero rather than failing the request.
var defaultPrices = map[string]ModelPrice{
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-opus-4-20250514":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
}

// Router wraps a Client and resolves named model tiers to concrete model
// identifiers. It also exposes cost computation from the price table.
type Router struct {
	client Client
	tiers  map[string]string
	auto   string
	prices map[string]ModelPrice
}

// NewRouter builds a router over the given client. The tiers map binds
// fast/balanced/powerful to model identifiers; autoTier names the tier used
// when a request asks for "auto".
func NewRouter(client Client, tiers map[string]string, autoTier string) *Router {
	if autoTier == "" {
		autoTier = TierBalanced
	}
	return &Router{
		client: client,
		tiers:  tiers,
		auto:   autoTier,
		prices: defaultPrices,
	}
}

// Resolve maps a tier name to a concrete model identifier. Concrete model
// identifiers pass through unchanged.
func (r *Router) Resolve(model string) (string, error) {
	switch model {
	case "", TierAuto:
		model = r.auto
	}
	if resolved, ok := r.tiers[model]; ok {
		return resolved, nil
	}
	// Not a tier name: assume a concrete model id.
	if model == TierFast || model == TierBalanced || model == TierPowerful {
		return "", fmt.Errorf("llm: tier %q has no configured model", model)
	}
	return model, nil
}

// CreateMessage resolves the requested tier and delegates to the wrapped
// client.
func (r *Router) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	resolved, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = resolved
	return r.client.CreateMessage(ctx, &routed)
}

// Name returns the underlying provider name.
func (r *Router) Name() string {
	return r.client.Name()
}

// Cost computes the dollar cost of a response from the price table.
func (r *Router) Cost(resp *Response) float64 {
	price, ok := r.prices[resp.Model]
	if !ok {
		return 0
	}
	in := float64(resp.InputTokens) * price.InputPerMTok / 1e6
	out := float64(resp.OutputTokens) * price.OutputPerMTok / 1e6
	return in + out
}
