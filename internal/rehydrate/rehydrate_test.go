package rehydrate

import (
	"reflect"
	"testing"

	"docpipe/internal/models"
)

func userMsg(id, text string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Content: models.TextContent(text)}
}

func textArtifact(fileID, name, anchor, markdown string) models.Artifact {
	return models.Artifact{FileID: fileID, DisplayName: name, Anchor: anchor, Kind: models.KindDocumentText, Markdown: markdown}
}

func imageArtifact(fileID, name, anchor string, pages int) models.Artifact {
	a := models.Artifact{FileID: fileID, DisplayName: name, Anchor: anchor, Kind: models.KindRenderedImages}
	for i := 0; i < pages; i++ {
		a.Images = append(a.Images, models.ImagePart("data:image/png;base64,page"))
	}
	return a
}

func TestTextOnlyTurn(t *testing.T) {
	messages := []models.Message{userMsg("m1", "hello")}
	out := Rehydrate(messages, nil, nil)

	parts := out[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %+v", parts)
	}
	if parts[0].Text != "hello" {
		t.Fatalf("unexpected user text: %q", parts[0].Text)
	}
	if parts[1].Text != ModeTextOnly+"\n\n" {
		t.Fatalf("unexpected mode label: %q", parts[1].Text)
	}
}

func TestDocumentTextTurn(t *testing.T) {
	messages := []models.Message{userMsg("m1", "summarize")}
	artifacts := map[string]models.Artifact{
		"f1": textArtifact("f1", "report.pdf", "m1", "Revenue: 100"),
	}
	out := Rehydrate(messages, artifacts, []string{"m1"})

	parts := out[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %+v", parts)
	}
	if parts[0].Text != "summarize" {
		t.Fatalf("unexpected user text: %q", parts[0].Text)
	}
	want := ModeDocumentText + "\n\nreport.pdf: Revenue: 100"
	if parts[1].Text != want {
		t.Fatalf("unexpected document block:\n got %q\nwant %q", parts[1].Text, want)
	}
}

func TestVisionTurnLabelsFiles(t *testing.T) {
	messages := []models.Message{userMsg("m1", "what is this")}
	artifacts := map[string]models.Artifact{
		"f1": imageArtifact("f1", "scan.pdf", "m1", 2),
	}
	out := Rehydrate(messages, artifacts, []string{"m1"})

	parts := out[0].Content.Parts
	if len(parts) != 5 {
		t.Fatalf("expected 5 parts, got %d: %+v", len(parts), parts)
	}
	if parts[1].Text != ModeVision+"\n\n" {
		t.Fatalf("unexpected mode label: %q", parts[1].Text)
	}
	if parts[2].Text != "scan.pdf" {
		t.Fatalf("expected filename label, got %q", parts[2].Text)
	}
	if parts[3].Type != models.PartTypeImageURL || parts[4].Type != models.PartTypeImageURL {
		t.Fatalf("expected image parts, got %+v", parts[3:])
	}
}

func TestFilenameLabelNotDuplicated(t *testing.T) {
	content := models.PartsContent([]models.ContentPart{
		models.TextPart("scan.pdf"),
		models.ImagePart("data:image/png;base64,inline"),
	})
	messages := []models.Message{{ID: "m1", Role: models.RoleUser, Content: content}}
	artifacts := map[string]models.Artifact{
		"f1": imageArtifact("f1", "scan.pdf", "m1", 1),
	}
	out := Rehydrate(messages, artifacts, []string{"m1"})

	labels := 0
	for _, p := range out[0].Content.Parts {
		if p.Type == models.PartTypeText && p.Text == "scan.pdf" {
			labels++
		}
	}
	if labels != 1 {
		t.Fatalf("expected exactly one filename label, got %d", labels)
	}
}

func TestPositionalAnchorResolution(t *testing.T) {
	messages := []models.Message{userMsg("", "summarize")}
	artifacts := map[string]models.Artifact{
		"f1": textArtifact("f1", "report.pdf", "turn:0", "Revenue: 100"),
	}
	out := Rehydrate(messages, artifacts, []string{"turn:0"})

	parts := out[0].Content.Parts
	if len(parts) != 2 || parts[1].Text != ModeDocumentText+"\n\nreport.pdf: Revenue: 100" {
		t.Fatalf("positional anchor did not resolve: %+v", parts)
	}
}

func TestMultipleArtifactsSortedByFileID(t *testing.T) {
	messages := []models.Message{userMsg("m1", "compare")}
	artifacts := map[string]models.Artifact{
		"f2": textArtifact("f2", "b.pdf", "m1", "beta"),
		"f1": textArtifact("f1", "a.pdf", "m1", "alpha"),
	}
	want := ModeDocumentText + "\n\na.pdf: alpha\n\nb.pdf: beta"
	for i := 0; i < 20; i++ {
		out := Rehydrate(messages, artifacts, []string{"m1"})
		if got := out[0].Content.Parts[1].Text; got != want {
			t.Fatalf("ordering unstable on run %d:\n got %q\nwant %q", i, got, want)
		}
	}
}

func TestRehydrateIsIdempotentAndPure(t *testing.T) {
	messages := []models.Message{
		userMsg("m1", "summarize"),
		{Role: models.RoleAssistant, Content: models.TextContent("sure")},
		userMsg("m2", "and now?"),
	}
	artifacts := map[string]models.Artifact{
		"f1": textArtifact("f1", "report.pdf", "m1", "Revenue: 100"),
	}
	order := []string{"m1", "m2"}

	original := models.CloneMessages(messages)
	first := Rehydrate(messages, artifacts, order)
	second := Rehydrate(messages, artifacts, order)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replays differ:\n first %+v\nsecond %+v", first, second)
	}
	if !reflect.DeepEqual(messages, original) {
		t.Fatalf("input messages were mutated")
	}
}

func TestNonUserTurnsPassThrough(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: models.TextContent("be helpful")},
		userMsg("m1", "hi"),
		{Role: models.RoleAssistant, Content: models.TextContent("hello")},
	}
	out := Rehydrate(messages, nil, nil)
	if out[0].Content.IsStructured() || out[0].Content.Text != "be helpful" {
		t.Fatalf("system turn changed: %+v", out[0].Content)
	}
	if out[2].Content.IsStructured() || out[2].Content.Text != "hello" {
		t.Fatalf("assistant turn changed: %+v", out[2].Content)
	}
}

func TestTurnWithoutArtifactsKeepsOtherTurnsIntact(t *testing.T) {
	messages := []models.Message{
		userMsg("m1", "summarize"),
		{Role: models.RoleAssistant, Content: models.TextContent("done")},
		userMsg("m2", "thanks"),
	}
	artifacts := map[string]models.Artifact{
		"f1": textArtifact("f1", "report.pdf", "m1", "Revenue: 100"),
	}
	out := Rehydrate(messages, artifacts, []string{"m1", "m2"})

	second := out[2].Content.Parts
	if len(second) != 2 || second[1].Text != ModeTextOnly+"\n\n" {
		t.Fatalf("artifact leaked into wrong turn: %+v", second)
	}
}
