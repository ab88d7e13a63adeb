// Package render formats query results and failures for terminal output.
package render

import (
	"errors"
	"fmt"
	"strings"

	"grounded-query/internal/grounding"
	"grounded-query/internal/session"
)

// FormatSources lists sources under a heading, or returns "" when there are none.
func FormatSources(sources []grounding.Source) string {
	if len(sources) == 0 {
		return ""
	}
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf("- %s\n  (Source: %s)", s.Title, s.Domain()))
	}
	return "\n\n--- Sources ---\n" + strings.Join(lines, "\n")
}

// FormatResult is the answer followed by its sources.
func FormatResult(r grounding.QueryResult) string {
	return r.AnswerText + FormatSources(r.Sources)
}

// FormatError turns a query failure into the message shown to the user.
func FormatError(err error) string {
	var apiErr *grounding.APIError
	switch {
	case errors.Is(err, session.ErrQuotaExceeded):
		return "Query limit reached for this session."
	case errors.Is(err, grounding.ErrRateLimitExceeded):
		return "Fatal Error: API quota exhausted or rate limited too heavily."
	case errors.Is(err, grounding.ErrAuth):
		return "Error: API key missing or rejected. Set GOOGLE_API_KEY in your environment or .env file."
	case errors.Is(err, grounding.ErrBadRequest) && errors.As(err, &apiErr):
		return "Client Error: Check your API key and input parameters. Response: " + apiErr.Body
	case errors.Is(err, grounding.ErrCancelled):
		return "Request cancelled."
	case errors.Is(err, grounding.ErrNetwork), errors.Is(err, grounding.ErrMalformedResponse):
		return "API Request Error: " + err.Error()
	default:
		return "An unexpected error occurred: " + err.Error()
	}
}
