package grounding

// generateContentRequest mirrors the generateContent request body.
type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction content           `json:"systemInstruction"`
	Tools             []tool            `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// tool enables provider-side web search; the empty object is the whole config.
type tool struct {
	GoogleSearch struct{} `json:"google_search"`
}

type generationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           *content           `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type groundingMetadata struct {
	GroundingAttributions []attribution `json:"groundingAttributions"`
	// Newer model versions report citations as chunks with the same web shape.
	GroundingChunks []attribution `json:"groundingChunks"`
}

type attribution struct {
	Web *webRef `json:"web"`
}

type webRef struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

func buildPayload(req QueryRequest) generateContentRequest {
	payload := generateContentRequest{
		Contents:          []content{{Parts: []part{{Text: req.Query}}}},
		SystemInstruction: content{Parts: []part{{Text: req.SystemInstruction}}},
	}
	if req.GroundingEnabled {
		payload.Tools = []tool{{}}
	}
	if req.Temperature != nil {
		payload.GenerationConfig = &generationConfig{Temperature: req.Temperature}
	}
	return payload
}

// extract turns a decoded response into a result. Missing candidates or text
// yield NoContentText; citations without both title and uri are skipped.
// Ungrounded requests never report sources.
func extract(resp generateContentResponse, grounded bool) QueryResult {
	result := QueryResult{AnswerText: NoContentText, Sources: []Source{}}
	if len(resp.Candidates) == 0 {
		return result
	}
	first := resp.Candidates[0]
	if text := joinText(first.Content); text != "" {
		result.AnswerText = text
	}
	if !grounded || first.GroundingMetadata == nil {
		return result
	}
	refs := first.GroundingMetadata.GroundingAttributions
	if len(refs) == 0 {
		refs = first.GroundingMetadata.GroundingChunks
	}
	for _, a := range refs {
		if a.Web == nil || a.Web.Title == "" || a.Web.URI == "" {
			continue
		}
		result.Sources = append(result.Sources, Source{Title: a.Web.Title, URI: a.Web.URI})
	}
	return result
}

func joinText(c *content) string {
	if c == nil {
		return ""
	}
	var text string
	for _, p := range c.Parts {
		text += p.Text
	}
	return text
}
