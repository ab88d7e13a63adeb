// Package grounding calls a generative-language generateContent endpoint with
// the web-search tool enabled and extracts the answer and its cited sources.
package grounding

import (
	"context"
	"net/url"
)

// NoContentText is the answer reported when the provider returns no candidate text.
const NoContentText = "No content generated."

// QueryRequest is a single grounded question.
type QueryRequest struct {
	Query             string
	SystemInstruction string
	// Temperature is passed through unchanged; nil leaves the provider default.
	Temperature      *float64
	GroundingEnabled bool
}

// Source is one cited web page.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Domain returns the host part of URI, or "" when it cannot be parsed.
func (s Source) Domain() string {
	u, err := url.Parse(s.URI)
	if err != nil {
		return ""
	}
	return u.Host
}

// QueryResult is the answer text and sources in provider order.
type QueryResult struct {
	AnswerText string   `json:"answer"`
	Sources    []Source `json:"sources"`
}

// HasContent reports whether the provider produced an actual answer.
func (r QueryResult) HasContent() bool {
	return r.AnswerText != NoContentText
}

// Querier executes grounded queries.
type Querier interface {
	Execute(ctx context.Context, req QueryRequest) (QueryResult, error)
}

// Float returns a pointer to v, for QueryRequest.Temperature.
func Float(v float64) *float64 {
	return &v
}
