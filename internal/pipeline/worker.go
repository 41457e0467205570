package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/store"
)

const uploadGoneMessage = "The original upload is no longer available. Please upload the document again."

// Retry window for writing the terminal error status.
const (
	failSaveTimeout = 5 * time.Second
	failSaveBackoff = 100 * time.Millisecond
)

var stageFailureMessages = map[record.Stage]string{
	record.StageUploading:  "Could not store the uploaded document.",
	record.StageParsing:    "Could not read the record sections from the document.",
	record.StageExtracting: "Could not extract data from the record.",
	record.StageAnalyzing:  "Could not analyze the record.",
	record.StageValidating: "Could not validate the analysis.",
}

// Worker processes a single session run.
type Worker struct {
	store   *store.Store
	archive Archive
	parser  SectionExtractor
	llm     Analyzer
	runs    *Registry
	log     *slog.Logger
	now     func() time.Time
}

func NewWorker(st *store.Store, archive Archive, parser SectionExtractor, llm Analyzer, runs *Registry, log *slog.Logger, now func() time.Time) *Worker {
	return &Worker{
		store:   st,
		archive: archive,
		parser:  parser,
		llm:     llm,
		runs:    runs,
		log:     log,
		now:     now,
	}
}

// run carries the artifacts of one session between stages.
type run struct {
	job     *job
	sess    *record.Session
	art     record.Artifacts
	log     *slog.Logger
	release func()
}

// Process drives a session from its current stage to completed or error.
// Each stage boundary persists the produced artifact and the new status in
// one write. The run leaves the registry before its terminal write.
func (w *Worker) Process(ctx context.Context, j *job) {
	held := true
	release := func() {
		if held {
			w.runs.Release(j.SessionID)
			held = false
		}
	}
	defer release()
	log := w.log.With("session_id", j.SessionID, "user_id", j.UserID)

	sess, err := w.store.Get(ctx, j.SessionID)
	if err != nil {
		log.Error("load session failed", "error", err)
		return
	}
	if sess.Status.Stage != j.Start {
		log.Warn("session moved since it was queued", "queued_at", j.Start, "stage", sess.Status.Stage)
		return
	}
	r := &run{job: j, sess: sess, log: log, release: release}
	if j.Start != record.StageUploading {
		if r.art, err = w.store.Artifacts(ctx, j.SessionID); err != nil {
			w.fail(ctx, r, &record.StageProcessingError{Stage: j.Start, Message: stageFailureMessages[j.Start], Err: err})
			return
		}
	}

	start := w.now()
	for !r.sess.Status.Stage.Terminal() {
		stage := r.sess.Status.Stage
		stageStart := w.now()

		upd, err := w.runStage(ctx, r, stage)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("run interrupted", "stage", stage, "error", err)
				return
			}
			w.fail(ctx, r, err)
			return
		}

		now := w.now()
		next, _ := stage.Next()
		before := *r.sess
		r.sess.MarkCheckpoint(stage, now)
		if err := r.sess.Advance(next, now); err != nil {
			w.fail(ctx, r, &record.StageProcessingError{Stage: stage, Message: stageFailureMessages[stage], Err: err})
			return
		}
		if next.Terminal() {
			r.release()
		}
		if err := w.store.Save(ctx, r.sess, upd); err != nil {
			if ctx.Err() != nil {
				log.Warn("run interrupted", "stage", stage, "error", err)
				return
			}
			// Nothing of this boundary was written; fail at the stage that ran.
			*r.sess = before
			w.fail(ctx, r, &record.StageProcessingError{Stage: stage, Message: stageFailureMessages[stage], Err: err})
			return
		}
		log.Info("stage complete", "stage", stage, "next", next, "duration_ms", now.Sub(stageStart).Milliseconds())
	}
	log.Info("session complete", "attempt", r.sess.Attempt, "duration_ms", w.now().Sub(start).Milliseconds())
}

func (w *Worker) runStage(ctx context.Context, r *run, stage record.Stage) (store.Update, error) {
	var upd store.Update
	stageErr := func(err error) error {
		if errors.Is(err, record.ErrUploadUnavailable) {
			return &record.StageProcessingError{Stage: stage, Message: uploadGoneMessage, Err: err}
		}
		return &record.StageProcessingError{Stage: stage, Message: stageFailureMessages[stage], Err: err}
	}

	switch stage {
	case record.StageUploading:
		if r.job.data == nil {
			return upd, stageErr(record.ErrUploadUnavailable)
		}
		if err := w.archive.PutUpload(ctx, r.sess.ID, r.job.data); err != nil {
			return upd, stageErr(err)
		}

	case record.StageParsing:
		data := r.job.data
		if data == nil {
			var err error
			if data, err = w.archive.GetUpload(ctx, r.sess.ID); err != nil {
				return upd, stageErr(err)
			}
		}
		sections, err := w.parser.Extract(ctx, data, r.sess.MIMEType, r.sess.Filename)
		if err != nil {
			return upd, stageErr(err)
		}
		r.art.TextSections = &sections
		upd.TextSections = &sections
		r.log.Info("sections extracted",
			"creative_chars", len(sections.CreativeActivities),
			"academic_chars", len(sections.AcademicDevelopment),
			"detailed_chars", len(sections.DetailedAbilities),
		)

	case record.StageExtracting:
		if r.art.TextSections == nil {
			return upd, stageErr(errors.New("text sections missing"))
		}
		data, err := w.llm.ExtractData(ctx, *r.art.TextSections)
		if err != nil {
			return upd, stageErr(err)
		}
		data.Normalize()
		r.art.ExtractedData = &data
		upd.ExtractedData = &data

	case record.StageAnalyzing:
		if r.art.TextSections == nil {
			return upd, stageErr(errors.New("text sections missing"))
		}
		analysis, err := w.llm.Analyze(ctx, *r.art.TextSections)
		if err != nil {
			return upd, stageErr(err)
		}
		analysis = analysis.Normalize()
		r.art.ValidationAnalysis = analysis
		upd.ValidationAnalysis = analysis

	case record.StageValidating:
		res, err := validateArtifacts(r.art)
		if err != nil {
			return upd, stageErr(err)
		}
		res.CreatedAt = r.sess.CreatedAt
		res.CompletedAt = w.now()
		written, err := w.store.PutResult(ctx, r.sess.UserID, r.sess.ID, res)
		if err != nil {
			return upd, stageErr(err)
		}
		if !written {
			r.log.Info("result already stored, keeping first write")
		}
		upd.ValidationAnalysis = res.ValidationAnalysis

	default:
		return upd, fmt.Errorf("%w: no work for stage %s", record.ErrInvalidTransition, stage)
	}
	return upd, nil
}

// validateArtifacts checks the draft artifacts and assembles the final
// record. Feedback whose sentence no longer occurs in any section is dropped.
func validateArtifacts(art record.Artifacts) (record.StoredResult, error) {
	if art.TextSections == nil || art.TextSections.Empty() {
		return record.StoredResult{}, errors.New("text sections are empty")
	}
	if art.ExtractedData == nil {
		return record.StoredResult{}, errors.New("extracted data missing")
	}
	if art.ValidationAnalysis == nil {
		return record.StoredResult{}, errors.New("validation analysis missing")
	}

	sections := *art.TextSections
	all := strings.Join([]string{sections.CreativeActivities, sections.AcademicDevelopment, sections.DetailedAbilities}, "\n")
	analysis := record.ValidationAnalysis{}
	for c, list := range art.ValidationAnalysis {
		if !c.Valid() {
			continue
		}
		kept := make([]record.Feedback, 0, len(list))
		for _, fb := range list {
			s := strings.TrimSpace(fb.Sentence)
			if s == "" || !strings.Contains(all, s) {
				continue
			}
			kept = append(kept, fb)
		}
		analysis[c] = kept
	}

	data := *art.ExtractedData
	data.Normalize()
	return record.StoredResult{
		ExtractedData:      data,
		ValidationAnalysis: analysis.Normalize(),
		TextSections:       sections,
	}, nil
}

func (w *Worker) fail(ctx context.Context, r *run, err error) {
	message := stageFailureMessages[r.sess.Status.Stage]
	var se *record.StageProcessingError
	if errors.As(err, &se) && se.Message != "" {
		message = se.Message
	}
	if ferr := r.sess.Fail(message, err, w.now()); ferr != nil {
		r.log.Error("fail transition rejected", "error", ferr)
		return
	}
	r.log.Error("stage failed", "stage", r.sess.FailedStage, "error", err)
	r.release()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failSaveTimeout)
	defer cancel()
	for {
		serr := w.store.Save(saveCtx, r.sess, store.Update{})
		if serr == nil {
			return
		}
		select {
		case <-saveCtx.Done():
			r.log.Error("save failed status", "error", serr)
			return
		case <-time.After(failSaveBackoff):
		}
	}
}
