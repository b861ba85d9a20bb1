// Package rehydrate rebuilds the outgoing message history by merging cached
// artifacts into the turns they were attached to.
package rehydrate

import (
	"sort"
	"strings"

	"docpipe/internal/models"
)

// Mode labels let downstream consumers branch on the turn's shape without
// inspecting content structure.
const (
	ModeDocumentText = "[MODE: OCR_POSTPROCESS]"
	ModeVision       = "[MODE: VISION_ANALYSIS]"
	ModeTextOnly     = "[MODE: TEXT_ONLY]"
)

// Rehydrate is a pure function of its inputs: identical (messages,
// artifacts, order) always produce identical output, nothing is mutated,
// and missing data degrades to plain text instead of failing.
func Rehydrate(messages []models.Message, artifacts map[string]models.Artifact, order []string) []models.Message {
	byAnchor := groupByAnchor(artifacts)

	out := models.CloneMessages(messages)
	userIdx := 0
	for i := range out {
		if !out[i].IsUser() {
			continue
		}
		anchor := resolveAnchor(out[i], userIdx, order)
		out[i].Content = models.PartsContent(renderTurn(out[i].Content, byAnchor[anchor]))
		userIdx++
	}
	return out
}

// resolveAnchor follows the same precedence as ingestion: the host's
// explicit turn id wins; otherwise the k-th user turn maps to the k-th
// cached anchor; turns beyond the cached order have no anchor.
func resolveAnchor(m models.Message, userIdx int, order []string) string {
	if m.ID != "" {
		return m.ID
	}
	if userIdx < len(order) {
		return order[userIdx]
	}
	return ""
}

func groupByAnchor(artifacts map[string]models.Artifact) map[string][]models.Artifact {
	grouped := make(map[string][]models.Artifact)
	for _, a := range artifacts {
		grouped[a.Anchor] = append(grouped[a.Anchor], a)
	}
	// Map iteration order is random; fix it so replays are byte-identical.
	for anchor := range grouped {
		sort.Slice(grouped[anchor], func(i, j int) bool {
			return grouped[anchor][i].FileID < grouped[anchor][j].FileID
		})
	}
	return grouped
}

// renderTurn assembles one user turn in fixed order: free text, one
// mode-labeled block per artifact kind, then any inline images the host
// already had in the message.
func renderTurn(content models.Content, arts []models.Artifact) []models.ContentPart {
	userText, existingImages, existingText := splitContent(content)

	var docs, imgs []models.Artifact
	for _, a := range arts {
		switch a.Kind {
		case models.KindDocumentText:
			docs = append(docs, a)
		case models.KindRenderedImages:
			imgs = append(imgs, a)
		}
	}

	var parts []models.ContentPart
	if userText != "" {
		parts = append(parts, models.TextPart(userText))
	}

	labeled := existingLabels(existingText, arts)

	switch {
	case len(docs) > 0:
		entries := make([]string, 0, len(docs))
		for _, a := range docs {
			entries = append(entries, a.DisplayName+": "+a.Markdown)
			labeled[a.DisplayName] = true
		}
		parts = append(parts, models.TextPart(ModeDocumentText+"\n\n"+strings.Join(entries, "\n\n")))
		parts = appendImageArtifacts(parts, imgs, labeled)
		parts = append(parts, existingImages...)
	case len(imgs) > 0 || len(existingImages) > 0:
		parts = append(parts, models.TextPart(ModeVision+"\n\n"))
		parts = appendImageArtifacts(parts, imgs, labeled)
		parts = append(parts, existingImages...)
	default:
		parts = append(parts, models.TextPart(ModeTextOnly+"\n\n"))
	}
	return parts
}

func appendImageArtifacts(parts []models.ContentPart, imgs []models.Artifact, labeled map[string]bool) []models.ContentPart {
	for _, a := range imgs {
		if !labeled[a.DisplayName] {
			parts = append(parts, models.TextPart(a.DisplayName))
			labeled[a.DisplayName] = true
		}
		parts = append(parts, a.Images...)
	}
	return parts
}

// splitContent separates the original message into free text, inline
// images, and the raw text parts used for label detection.
func splitContent(content models.Content) (string, []models.ContentPart, []string) {
	if !content.IsStructured() {
		return strings.TrimSpace(content.Text), nil, nil
	}

	var texts []string
	var images []models.ContentPart
	for _, p := range content.Parts {
		switch p.Type {
		case models.PartTypeText:
			texts = append(texts, p.Text)
		case models.PartTypeImageURL:
			images = append(images, p)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), images, texts
}

// existingLabels marks artifact filenames the host already round-tripped in
// the message text, so they are not labeled twice.
func existingLabels(textParts []string, arts []models.Artifact) map[string]bool {
	labeled := make(map[string]bool)
	for _, a := range arts {
		for _, t := range textParts {
			trimmed := strings.TrimSpace(t)
			if trimmed == a.DisplayName || strings.HasPrefix(trimmed, a.DisplayName+":") {
				labeled[a.DisplayName] = true
				break
			}
		}
	}
	return labeled
}
