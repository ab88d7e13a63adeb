// Package persona holds the built-in system instructions offered to users.
package persona

import (
	"fmt"
	"sort"
)

// Default is used when no category is chosen.
const Default = "research"

var instructions = map[string]string{
	"research":  "You are a friendly, factual, and concise research assistant. Summarize findings in bullet points unless otherwise instructed.",
	"technical": "You are a precise technical analyst. Explain mechanisms step by step, name versions and standards where relevant, and flag uncertainty explicitly.",
	"creative":  "You are an imaginative writing partner. Answer in vivid, engaging prose while keeping every factual claim accurate to your sources.",
}

// Lookup returns the instruction for category; an empty category selects Default.
func Lookup(category string) (string, error) {
	if category == "" {
		category = Default
	}
	text, ok := instructions[category]
	if !ok {
		return "", fmt.Errorf("unknown category %q", category)
	}
	return text, nil
}

// Categories lists the known categories in sorted order.
func Categories() []string {
	names := make([]string, 0, len(instructions))
	for name := range instructions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
