package models

import (
	"encoding/json"
	"fmt"
)

// Content is the message body as the host wire format carries it: either a
// plain string or a list of typed parts. Text keeps the plain form, Parts
// keeps the structured form; at most one of the two is set.
type Content struct {
	Text  string
	Parts []ContentPart
}

const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextContent builds a plain-string content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds a structured content.
func PartsContent(parts []ContentPart) Content {
	return Content{Parts: parts}
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartTypeText, Text: text}
}

// ImagePart builds an image_url part from an already-encoded data URL.
func ImagePart(dataURL string) ContentPart {
	return ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: dataURL}}
}

// IsStructured reports whether the content is the parts form.
func (c Content) IsStructured() bool {
	return c.Parts != nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content is neither string nor part list: %w", err)
	}
	c.Text = ""
	c.Parts = parts
	return nil
}
