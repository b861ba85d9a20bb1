package models

// FileDescriptor is the host's view of one attached file.
type FileDescriptor struct {
	FileID      string `json:"id"`
	URL         string `json:"url"`
	DisplayName string `json:"name"`
	ContentType string `json:"content_type"`
}

// ContentTypePDF is the only document type currently extracted.
const ContentTypePDF = "application/pdf"
