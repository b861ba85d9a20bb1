// Package pipeline orchestrates one request end to end: detect new files,
// extract them, track turn order, rehydrate the history, and invoke the
// model.
package pipeline

import (
	"context"
	"strings"

	"docpipe/internal/extract"
	"docpipe/internal/ingest"
	"docpipe/internal/journal"
	"docpipe/internal/logger"
	"docpipe/internal/models"
	"docpipe/internal/rehydrate"
	"docpipe/internal/session"
	"docpipe/internal/turnorder"
	"docpipe/internal/vlm"
)

// Recorder receives per-file extraction outcomes. Nil-able; the journal
// implements it.
type Recorder interface {
	Record(ctx context.Context, key models.SessionKey, entry journal.Entry) error
}

type Service struct {
	store        session.Store
	detector     *ingest.Detector
	dispatcher   *extract.Dispatcher
	tracker      *turnorder.Tracker
	model        vlm.Invoker
	recorder     Recorder
	systemPrompt string
	locks        *keyedLocks
}

func NewService(store session.Store, dispatcher *extract.Dispatcher, model vlm.Invoker, recorder Recorder, systemPrompt string) *Service {
	return &Service{
		store:        store,
		detector:     ingest.NewDetector(store),
		dispatcher:   dispatcher,
		tracker:      turnorder.NewTracker(store),
		model:        model,
		recorder:     recorder,
		systemPrompt: systemPrompt,
		locks:        newKeyedLocks(),
	}
}

// InletRequest carries everything the host supplies for one request.
type InletRequest struct {
	Key       models.SessionKey
	MessageID string
	Files     []models.FileDescriptor
	Messages  []models.Message
}

// Inlet processes attachments and returns the rehydrated history. A request
// without full session identity skips processing and echoes the messages
// back; extraction failures never fail the request.
func (s *Service) Inlet(ctx context.Context, req InletRequest) ([]models.Message, error) {
	if !req.Key.Valid() {
		logger.Warn().Msg("missing user_id or chat_id, skipping file processing")
		return req.Messages, nil
	}

	release := s.locks.acquire(req.Key)
	defer release()

	fresh, err := s.detector.DetectNew(ctx, req.Key, req.Files)
	if err != nil {
		return nil, err
	}

	if len(fresh) > 0 {
		anchor, err := s.tracker.Touch(ctx, req.Key, req.Messages, req.MessageID)
		if err != nil {
			return nil, err
		}
		results := s.dispatcher.Process(ctx, req.Key, anchor, fresh)
		s.record(ctx, req.Key, results)
	}

	if err := s.tracker.Observe(ctx, req.Key, req.Messages); err != nil {
		return nil, err
	}

	snap, err := s.store.Snapshot(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return rehydrate.Rehydrate(req.Messages, snap.Artifacts, snap.Order), nil
}

func (s *Service) record(ctx context.Context, key models.SessionKey, results []extract.Result) {
	if s.recorder == nil {
		return
	}
	for _, r := range results {
		entry := journal.Entry{
			FileID:   r.FileID,
			FileName: r.DisplayName,
			Method:   r.Method,
			Kind:     string(r.Kind),
			Pages:    r.Pages,
			Duration: r.Elapsed.Milliseconds(),
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		if err := s.recorder.Record(ctx, key, entry); err != nil {
			logger.Error().Err(err).Str("file_id", r.FileID).Msg("journal record failed")
		}
	}
}

// Complete invokes the model over the prepared history. Streaming forwards
// chunks through callback; both modes return the full completion.
func (s *Service) Complete(ctx context.Context, messages []models.Message, stream bool, callback func(chunk string) error) (string, error) {
	prepared := s.prepare(messages)
	if stream {
		return s.model.Stream(ctx, prepared, callback)
	}
	return s.model.Generate(ctx, prepared)
}

// prepare prepends the system prompt when the history lacks one and strips
// the host's task preamble from the latest user turn.
func (s *Service) prepare(messages []models.Message) []models.Message {
	out := models.CloneMessages(messages)

	for i := len(out) - 1; i >= 0; i-- {
		if !out[i].IsUser() {
			continue
		}
		if out[i].Content.IsStructured() {
			for j, p := range out[i].Content.Parts {
				if p.Type == models.PartTypeText {
					out[i].Content.Parts[j].Text = stripTaskPreamble(p.Text)
				}
			}
		} else {
			out[i].Content.Text = stripTaskPreamble(out[i].Content.Text)
		}
		break
	}

	if s.systemPrompt == "" {
		return out
	}
	for _, m := range out {
		if m.Role == models.RoleSystem {
			return out
		}
	}
	system := models.Message{Role: models.RoleSystem, Content: models.TextContent(s.systemPrompt)}
	return append([]models.Message{system}, out...)
}

// stripTaskPreamble removes the host's injected "### Task: ... </context>"
// prefix, leaving only the user's own query.
func stripTaskPreamble(text string) string {
	normalized := strings.TrimLeft(strings.ReplaceAll(text, "\r\n", "\n"), " \t\n")
	if !strings.HasPrefix(normalized, "### Task:") {
		return strings.TrimSpace(text)
	}
	_, after, found := strings.Cut(normalized, "</context>")
	if !found {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(after)
}
