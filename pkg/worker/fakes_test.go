package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/chat"
	"github.com/pdfbot/slack-pdf-backend/pkg/extractor"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

type fakeRepository struct {
	repository.Repository

	mu        sync.Mutex
	docs      map[string]repository.Document
	insertErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{docs: map[string]repository.Document{}}
}

func (r *fakeRepository) InsertDocumentIfAbsent(_ context.Context, doc *repository.Document) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insertErr != nil {
		return false, r.insertErr
	}
	if _, ok := r.docs[doc.ExternalFileID]; ok {
		return false, nil
	}
	doc.ID = uint(len(r.docs) + 1)
	doc.ProcessedAt = time.Now()
	r.docs[doc.ExternalFileID] = *doc
	return true, nil
}

func (r *fakeRepository) get(fileID string) (repository.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[fileID]
	return doc, ok
}

func (r *fakeRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

type fakeStaging struct {
	mu      sync.Mutex
	entries map[string][]byte
	setErr  error
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{entries: map[string][]byte{}}
}

func (s *fakeStaging) SetStagedContent(_ context.Context, fileID string, kind repository.StagedKind, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[repository.StagingKey(fileID, kind)] = data
	return nil
}

func (s *fakeStaging) GetStagedContent(_ context.Context, fileID string, kind repository.StagedKind) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[repository.StagingKey(fileID, kind)]
	if !ok {
		return nil, fmt.Errorf("staged %s content of %s: %w", kind, fileID, errorsx.ErrNotFound)
	}
	return data, nil
}

func (s *fakeStaging) DeleteStagedContent(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, repository.StagingKey(fileID, repository.StagedRawPDF))
	delete(s.entries, repository.StagingKey(fileID, repository.StagedFullText))
	return nil
}

func (s *fakeStaging) Ping(context.Context) error { return nil }

func (s *fakeStaging) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakeChat struct {
	mu        sync.Mutex
	files     map[string][]byte
	err       error
	downloads []string
}

func (f *fakeChat) History(context.Context, string, time.Time) ([]chat.Message, error) {
	return nil, nil
}

func (f *fakeChat) Download(_ context.Context, url, token string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, token+" "+url)
	if f.err != nil {
		return nil, f.err
	}
	content, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("Network error downloading %s: 404: %w", url, errorsx.ErrUnavailable)
	}
	return content, nil
}

// fakeExtractor treats the content after the %PDF- header as pages
// separated by form feeds.
type fakeExtractor struct{}

func (fakeExtractor) Extract(content []byte, filename string) (*extractor.Result, error) {
	body, ok := strings.CutPrefix(string(content), "%PDF-1.4\n")
	if !ok {
		return nil, fmt.Errorf("%s: %w", filename, errorsx.ErrNotPDF)
	}
	pages := strings.Split(body, "\f")
	return &extractor.Result{
		Pages:      pages,
		FullText:   strings.Join(pages, ""),
		PromptText: extractor.PromptText(filename, pages, extractor.DefaultPromptPages),
	}, nil
}

type fakeInferer struct {
	mu       sync.Mutex
	raw      bool
	metadata ai.Metadata
	errs     []error // returned in order, then success
	inputs   []ai.Input
}

func (f *fakeInferer) Name() string          { return "fake" }
func (f *fakeInferer) NeedsRawContent() bool { return f.raw }

func (f *fakeInferer) InferMetadata(_ context.Context, in ai.Input) (*ai.InferenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &ai.InferenceResult{
		Metadata: f.metadata,
		Usage:    ai.Usage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110},
		Model:    "fake-model",
	}, nil
}

func (f *fakeInferer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	reads   int
}

func (a *fakeArchive) UploadFile(_ context.Context, objectPath string, content []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[objectPath] = content
	return nil
}

func (a *fakeArchive) GetFile(_ context.Context, objectPath string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	content, ok := a.objects[objectPath]
	if !ok {
		return nil, errorsx.ErrNotFound
	}
	return content, nil
}

func pdfContent(pages ...string) []byte {
	return []byte("%PDF-1.4\n" + strings.Join(pages, "\f"))
}
