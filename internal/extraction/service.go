package extraction

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/docextract/internal/compare"
	"github.com/zombor/docextract/internal/record"
	"github.com/zombor/docextract/internal/render"
	"github.com/zombor/docextract/internal/scanning"
)

// DefaultMaxGroups is the strip image budget per document
const DefaultMaxGroups = 25

// Artifact suffixes written next to each document name
const (
	ExtractionSuffix = ".Extraction.json"
	RawTextSuffix    = ".Extraction.txt"
	ResponseSuffix   = ".Response.json"
)

// IDGenerator generates unique IDs for runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the collaborators of a Service
type Config struct {
	DB        DB
	Renderer  render.Renderer
	Extractor scanning.Extractor
	// Output receives Response, Extraction and raw text artifacts
	Output Storage
	// Scratch holds strip images for the duration of one model call
	Scratch     Storage
	Schema      *record.Schema
	MaxGroups   int
	JPEGQuality int
}

// Service runs documents through the extraction pipeline
type Service struct {
	// mu serializes documents; they share scratch and output storage
	mu sync.Mutex

	db          DB
	renderer    render.Renderer
	extractor   scanning.Extractor
	output      Storage
	scratch     Storage
	schema      *record.Schema
	checker     *record.KeyChecker
	normalizer  scanning.Normalizer
	maxGroups   int
	jpegQuality int
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(cfg Config) (*Service, error) {
	return NewServiceWithDeps(cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(cfg Config, idGen IDGenerator, timeSrc TimeSource) (*Service, error) {
	if cfg.Schema == nil {
		cfg.Schema = record.EngineeringDocument()
	}
	if cfg.MaxGroups < 1 {
		cfg.MaxGroups = DefaultMaxGroups
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = render.DefaultJPEGQuality
	}
	checker, err := record.NewKeyChecker(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("building key checker: %w", err)
	}

	return &Service{
		db:          cfg.DB,
		renderer:    cfg.Renderer,
		extractor:   cfg.Extractor,
		output:      cfg.Output,
		scratch:     cfg.Scratch,
		schema:      cfg.Schema,
		checker:     checker,
		normalizer:  scanning.NewNormalizer(cfg.Schema.IdentityField),
		maxGroups:   cfg.MaxGroups,
		jpegQuality: cfg.JPEGQuality,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

// Schema returns the active document type
func (s *Service) Schema() *record.Schema {
	return s.schema
}

// DocumentName strips the extension from a source file name
func DocumentName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ProcessDocument renders, batches and composites a document, sends the
// strips to the model and writes the validated record to the output
// storage. Render, transport and normalization failures degrade to the
// schema default and are reported in the outcome; only failures to write
// artifacts are returned as errors.
func (s *Service) ProcessDocument(ctx context.Context, name string, data []byte, contentType string) (*DocumentOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := &DocumentOutcome{Name: name}
	log := slog.With("name", name)

	pages, err := s.renderer.Render(data, contentType)
	if err != nil {
		log.Error("Failed to render document", "content_type", contentType, "file_size", len(data), "error", err)
		outcome.Status = StatusRenderFailed
		outcome.Reason = err.Error()
		return s.finish(outcome, nil)
	}

	groups := render.Batch(pages, s.maxGroups)
	outcome.Pages = len(pages)
	outcome.Strips = len(groups)
	if len(groups) == 0 {
		log.Warn("Document has no pages, skipping model call")
		outcome.Status = StatusEmpty
		return s.finish(outcome, nil)
	}

	log.Info("Processing document", "pages", len(pages), "strips", len(groups))
	resp, err := s.callModel(ctx, name, groups)
	if resp != nil && len(resp.Raw) > 0 {
		if _, saveErr := s.output.Save(name+ResponseSuffix, resp.Raw); saveErr != nil {
			return nil, fmt.Errorf("saving response: %w", saveErr)
		}
	}
	if err != nil {
		var statusErr *scanning.StatusError
		if errors.As(err, &statusErr) {
			log.Error("Model call returned an error status", "status", statusErr.StatusCode, "body", statusErr.Body)
		} else {
			log.Error("Model call failed", "error", err)
		}
		var compErr *compositionError
		if errors.As(err, &compErr) {
			outcome.Status = StatusRenderFailed
		} else {
			outcome.Status = StatusTransportFailed
		}
		outcome.Reason = err.Error()
		return s.finish(outcome, nil)
	}

	result := s.normalizer.Normalize(resp.Text, name)
	if !result.OK {
		log.Warn("Failed to normalize model response", "reason", result.Reason)
		if _, err := s.output.Save(name+RawTextSuffix, []byte(result.Text)); err != nil {
			return nil, fmt.Errorf("saving raw text: %w", err)
		}
		outcome.Status = StatusNormalizationFailed
		outcome.Reason = result.Reason
		return s.finish(outcome, nil)
	}

	outcome.Status = StatusExtracted
	return s.finish(outcome, result.Record)
}

// compositionError marks failures that happened before the model call
type compositionError struct {
	err error
}

func (e *compositionError) Error() string { return e.err.Error() }

func (e *compositionError) Unwrap() error { return e.err }

// callModel materializes strip images in scratch storage, sends them to the
// extractor and deletes them again on every exit path.
func (s *Service) callModel(ctx context.Context, name string, groups [][]image.Image) (*scanning.Response, error) {
	var saved []string
	defer func() {
		for _, f := range saved {
			if err := s.scratch.Delete(f); err != nil {
				slog.Warn("Failed to delete strip image", "filename", f, "error", err)
			}
		}
	}()

	images := make([]scanning.Image, 0, len(groups))
	for i, group := range groups {
		strip, err := render.Composite(group)
		if err != nil {
			return nil, &compositionError{fmt.Errorf("strip %d: %w", i, err)}
		}
		encoded, err := render.EncodeJPEG(strip, s.jpegQuality)
		if err != nil {
			return nil, &compositionError{fmt.Errorf("strip %d: %w", i, err)}
		}
		filename, err := s.scratch.Save(fmt.Sprintf("%s.Part_%d.jpg", name, i), encoded)
		if err != nil {
			return nil, &compositionError{fmt.Errorf("saving strip %d: %w", i, err)}
		}
		saved = append(saved, filename)
		images = append(images, scanning.Image{MIMEType: "image/jpeg", Data: encoded})
	}

	req, err := scanning.BuildRequest(s.schema, images)
	if err != nil {
		return nil, &compositionError{err}
	}
	return s.extractor.Extract(ctx, req)
}

// finish validates rec, checks key presence and writes the Extraction
// artifact. A nil rec is replaced by the schema default carrying the
// document name.
func (s *Service) finish(outcome *DocumentOutcome, rec *record.Record) (*DocumentOutcome, error) {
	if rec == nil {
		rec = record.Validate(nil, s.schema)
		rec.Set(s.schema.IdentityField, record.Bare(record.String(outcome.Name)))
	}
	rec = s.schema.Order(record.Validate(rec, s.schema))

	var missing *record.MissingKeyError
	if err := s.checker.Check(rec); errors.As(err, &missing) {
		slog.Warn("Extraction is missing schema keys", "name", outcome.Name, "keys", missing.Keys)
		outcome.MissingKeys = missing.Keys
	} else if err != nil {
		return nil, fmt.Errorf("checking keys: %w", err)
	}

	data, err := rec.Indented()
	if err != nil {
		return nil, fmt.Errorf("encoding extraction: %w", err)
	}
	if _, err := s.output.Save(outcome.Name+ExtractionSuffix, data); err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}
	outcome.Record = rec
	return outcome, nil
}

// Run processes every supported document in input, one at a time, and
// records the run in the history. A document that cannot be read or
// written is recorded as failed and the batch continues.
func (s *Service) Run(ctx context.Context, input Storage) (*Run, error) {
	files, err := input.List(".pdf")
	if err != nil {
		return nil, fmt.Errorf("listing input documents: %w", err)
	}

	run := &Run{
		ID:        s.idGenerator.Generate(),
		Kind:      RunExtract,
		Schema:    s.schema.Name,
		StartedAt: s.timeSource.Now(),
	}
	slog.Info("Starting extraction run", "run_id", run.ID, "documents", len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := DocumentName(file)

		outcome, err := s.processFile(ctx, input, file, name)
		if err != nil {
			slog.Error("Failed to process document", "name", name, "error", err)
			outcome = &DocumentOutcome{Name: name, Status: StatusFailed, Reason: err.Error()}
		}
		outcome.Record = nil
		run.Documents = append(run.Documents, *outcome)
		run.Total++
		if outcome.Status == StatusExtracted {
			run.Passed++
		}
	}

	run.FinishedAt = s.timeSource.Now()
	if s.db != nil {
		if err := s.db.SaveRun(run); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
	}
	slog.Info("Finished extraction run", "run_id", run.ID, "extracted", run.Passed, "total", run.Total)
	return run, nil
}

func (s *Service) processFile(ctx context.Context, input Storage, file, name string) (*DocumentOutcome, error) {
	data, err := input.Get(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return s.ProcessDocument(ctx, name, data, render.ContentTypeFor(file))
}

// GetDocument returns the stored Extraction artifact for a document
func (s *Service) GetDocument(name string) ([]byte, error) {
	data, err := s.output.Get(name + ExtractionSuffix)
	if err != nil {
		return nil, fmt.Errorf("getting extraction for %s: %w", name, err)
	}
	return data, nil
}

// GetRun retrieves a run by ID
func (s *Service) GetRun(id string) (*Run, error) {
	run, err := s.db.GetRun(id)
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first
func (s *Service) ListRuns() ([]*Run, error) {
	runs, err := s.db.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// GetRunResults returns the comparison rows of a verification run
func (s *Service) GetRunResults(id string) (*Run, []compare.Result, error) {
	run, err := s.db.GetRun(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting run: %w", err)
	}
	results, err := s.db.GetResults(id)
	if errors.Is(err, ErrNotFound) {
		return run, []compare.Result{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting results: %w", err)
	}
	return run, results, nil
}

// DeleteRun removes a run from the history
func (s *Service) DeleteRun(id string) error {
	if err := s.db.DeleteRun(id); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}
