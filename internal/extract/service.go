package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/recordlens/internal/chunker"
	"github.com/dgallion1/recordlens/internal/record"
)

// Service runs the two model-backed stages: structured extraction and
// per-sentence feedback analysis.
type Service struct {
	llm           Completer
	stats         *LLMStats
	chunkCfg      chunker.Config
	maxConcurrent int
	backoff       func(int) time.Duration
	log           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithChunkConfig sets how sections are split for analysis.
func WithChunkConfig(cfg chunker.Config) Option {
	return func(s *Service) { s.chunkCfg = cfg }
}

// WithMaxConcurrent bounds in-flight analysis calls per document.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithBackoff replaces the retry backoff schedule.
func WithBackoff(fn func(int) time.Duration) Option {
	return func(s *Service) { s.backoff = fn }
}

func NewService(llm Completer, stats *LLMStats, log *slog.Logger, opts ...Option) *Service {
	if stats == nil {
		stats = NewLLMStats(time.Hour)
	}
	s := &Service{
		llm:           llm,
		stats:         stats,
		chunkCfg:      chunker.DefaultConfig(),
		maxConcurrent: 4,
		backoff:       Backoff,
		log:           log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stats returns the latency tracker shared by all calls.
func (s *Service) Stats() *LLMStats {
	return s.stats
}

// ExtractData derives activities, academic rows and subject notes from
// the sections.
func (s *Service) ExtractData(ctx context.Context, sections record.TextSections) (record.ExtractedData, error) {
	raw, err := s.call(ctx, OpExtract, ExtractionSystemPrompt, BuildExtractionPrompt(sections))
	if err != nil {
		return record.ExtractedData{}, err
	}

	var data record.ExtractedData
	if err := json.Unmarshal([]byte(stripCodeBlock(raw)), &data); err != nil {
		return record.ExtractedData{}, fmt.Errorf("parse extraction response: %w (raw: %s)", err, truncate(raw, 200))
	}
	ValidateExtracted(&data)
	return data, nil
}

// Analyze classifies sentences of every section into feedback categories.
// Chunks run concurrently; results merge in chunk order so the output is
// independent of scheduling.
func (s *Service) Analyze(ctx context.Context, sections record.TextSections) (record.ValidationAnalysis, error) {
	chunks := chunker.ChunkSections(sections, s.chunkCfg)
	if len(chunks) == 0 {
		return record.ValidationAnalysis{}.Normalize(), nil
	}

	results := make([]record.ValidationAnalysis, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i, c := range chunks {
		g.Go(func() error {
			v, err := s.analyzeChunk(gctx, c, sections.Get(c.Section))
			if err != nil {
				return fmt.Errorf("%s chunk %d: %w", c.Section, c.Index, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := record.ValidationAnalysis{}.Normalize()
	for _, v := range results {
		merged = MergeAnalysis(merged, v)
	}
	s.log.Info("analysis complete", "chunks", len(chunks), "feedback", merged.Count())
	return merged, nil
}

func (s *Service) analyzeChunk(ctx context.Context, c chunker.Chunk, source string) (record.ValidationAnalysis, error) {
	raw, err := s.call(ctx, OpAnalyze, AnalysisSystemPrompt, BuildAnalysisPrompt(c.Section, c.Text))
	if err != nil {
		return nil, err
	}
	var parsed map[string][]record.Feedback
	if err := json.Unmarshal([]byte(stripCodeBlock(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse analysis response: %w (raw: %s)", err, truncate(raw, 200))
	}
	return ValidateFeedback(parsed, source), nil
}

func (s *Service) call(ctx context.Context, op, system, prompt string) (string, error) {
	start := time.Now()
	out, err := completeWithRetry(ctx, s.llm, s.backoff, s.log.With("op", op), system, prompt)
	s.stats.Record(op, time.Since(start), err)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%s: empty model response", op)
	}
	return out, nil
}
