package models

// ArtifactKind tags which extraction method produced the artifact. A batch
// is extracted by exactly one method, so artifacts written together always
// share a kind.
type ArtifactKind string

const (
	KindDocumentText   ArtifactKind = "document_text"
	KindRenderedImages ArtifactKind = "rendered_images"
)

// Artifact is the cached extraction result for one file. It is immutable
// once written; a fallback retry replaces the whole value, never a field.
type Artifact struct {
	FileID      string `json:"file_id"`
	DisplayName string `json:"display_name"`
	// Anchor identifies the conversational turn the file was attached to:
	// the host's message id when one was supplied, otherwise a positional
	// anchor assigned at ingestion time.
	Anchor   string       `json:"anchor"`
	Kind     ArtifactKind `json:"kind"`
	Markdown string       `json:"markdown,omitempty"`
	// Images holds the ordered rendered pages as image_url parts.
	Images []ContentPart `json:"images,omitempty"`
}

// PageCount returns how many payload units the artifact carries.
func (a Artifact) PageCount() int {
	if a.Kind == KindRenderedImages {
		return len(a.Images)
	}
	if a.Markdown != "" {
		return 1
	}
	return 0
}
