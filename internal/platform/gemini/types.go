package gemini

import "encoding/json"

// promptData is the input to the batch prompt template.
type promptData struct {
	// Items are the source texts to transform, in batch order.
	Items []string
}

// responseItem is one element of the JSON array the model is instructed
// to return. The schema mirrors generation.Result deliberately: text is
// required, metadata is optional free-form JSON.
type responseItem struct {
	Text     string          `json:"text"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
