package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/store"
)

// Archive keeps the original uploads so a failed session can be resumed.
type Archive interface {
	PutUpload(ctx context.Context, id string, data []byte) error
	GetUpload(ctx context.Context, id string) ([]byte, error)
	HasUpload(ctx context.Context, id string) (bool, error)
}

// SectionExtractor turns a document into the three record sections.
type SectionExtractor interface {
	Extract(ctx context.Context, data []byte, mime, filename string) (record.TextSections, error)
}

// Analyzer is the language-model service used by the extracting and
// analyzing stages.
type Analyzer interface {
	ExtractData(ctx context.Context, sections record.TextSections) (record.ExtractedData, error)
	Analyze(ctx context.Context, sections record.TextSections) (record.ValidationAnalysis, error)
}

// Options sizes the worker pool and bounds uploads.
type Options struct {
	WorkerCount    int
	MaxQueueSize   int
	MinUploadBytes int64
	MaxUploadBytes int64
	StaleAfter     time.Duration
}

// Upload is one submitted document.
type Upload struct {
	Filename string
	Data     []byte
	// SessionID is an optional client-chosen idempotency key.
	SessionID string
}

// SubmitResult is returned by Submit and Retry.
type SubmitResult struct {
	SessionID string        `json:"sessionId"`
	Status    record.Status `json:"status"`
}

// Orchestrator manages the document analysis pipeline.
type Orchestrator struct {
	store   *store.Store
	archive Archive
	parser  SectionExtractor
	llm     Analyzer
	runs    *Registry
	queue   chan *job
	log     *slog.Logger
	opts    Options
	now     func() time.Time
	newID   func() string
	qmu     sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(st *store.Store, archive Archive, parser SectionExtractor, llm Analyzer, log *slog.Logger, opts Options) *Orchestrator {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 100
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if archive == nil {
		archive = st
	}
	return &Orchestrator{
		store:   st,
		archive: archive,
		parser:  parser,
		llm:     llm,
		runs:    NewRegistry(),
		queue:   make(chan *job, opts.MaxQueueSize),
		log:     log,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.opts.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.store, o.archive, o.parser, o.llm, o.runs, o.log, o.now)
			for {
				select {
				case <-workerCtx.Done():
					return
				case j, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, j)
				}
			}
		}()
	}
}

// Stop gracefully shuts down the pipeline. Runs interrupted mid-stage stay
// non-terminal and can be resumed once they are stale.
func (o *Orchestrator) Stop() {
	o.qmu.Lock()
	if o.stopped {
		o.qmu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.qmu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit validates an upload, creates its session and queues processing.
// Validation errors are returned before any session exists.
func (o *Orchestrator) Submit(ctx context.Context, id auth.Identity, up Upload) (SubmitResult, error) {
	mime, err := o.validateUpload(up)
	if err != nil {
		return SubmitResult{}, err
	}
	hash := ContentHashHex(up.Data)

	if up.SessionID != "" {
		if _, err := uuid.Parse(up.SessionID); err != nil {
			return SubmitResult{}, &record.UploadValidationError{Reason: "sessionId must be a UUID"}
		}
		if res, ok, err := o.existing(ctx, id, up.SessionID); ok || err != nil {
			return res, err
		}
	}

	if running, err := o.store.InflightByHash(ctx, id.UserID, hash); err != nil {
		o.log.Warn("inflight lookup failed, proceeding", "error", err)
	} else if running != "" {
		sess, err := o.store.Get(ctx, running)
		if err == nil && !sess.Status.Stage.Terminal() {
			o.log.Info("duplicate upload joined running session", "session_id", running, "user_id", id.UserID)
			return SubmitResult{SessionID: sess.ID, Status: sess.Status}, nil
		}
	}

	sid := up.SessionID
	if sid == "" {
		sid = o.newID()
	}
	sess := record.NewSession(sid, id.UserID, o.now())
	sess.Filename = up.Filename
	sess.MIMEType = mime
	sess.Size = len(up.Data)
	sess.ContentHash = hash

	if err := o.store.Create(ctx, sess); err != nil {
		if errors.Is(err, store.ErrExists) {
			if res, ok, err := o.existing(ctx, id, sid); ok || err != nil {
				return res, err
			}
		}
		return SubmitResult{}, err
	}

	o.log.Info("session created", "session_id", sid, "user_id", id.UserID, "filename", up.Filename, "mime", mime, "bytes", len(up.Data))
	j := &job{SessionID: sid, UserID: id.UserID, Start: record.StageUploading, data: up.Data}
	if err := o.enqueue(ctx, sess, j); err != nil {
		return SubmitResult{SessionID: sid, Status: sess.Status}, err
	}
	return SubmitResult{SessionID: sid, Status: sess.Status}, nil
}

// existing resolves a client-chosen session id that is already taken.
func (o *Orchestrator) existing(ctx context.Context, id auth.Identity, sid string) (SubmitResult, bool, error) {
	sess, err := o.store.Get(ctx, sid)
	if errors.Is(err, record.ErrNotFound) {
		return SubmitResult{}, false, nil
	}
	if err != nil {
		return SubmitResult{}, true, err
	}
	if sess.UserID != id.UserID {
		return SubmitResult{}, true, &record.UploadValidationError{Reason: "sessionId is already in use"}
	}
	return SubmitResult{SessionID: sess.ID, Status: sess.Status}, true, nil
}

// Retry resumes a failed or stale session from the first stage whose
// artifact is missing. In-flight and completed sessions are returned as-is.
func (o *Orchestrator) Retry(ctx context.Context, id auth.Identity, sid string) (SubmitResult, error) {
	sess, err := o.owned(ctx, id, sid)
	if err != nil {
		return SubmitResult{}, err
	}
	current := SubmitResult{SessionID: sess.ID, Status: sess.Status}
	if o.runs.Running(sid) || sess.Status.Stage == record.StageCompleted {
		return current, nil
	}
	now := o.now()
	stale := !sess.Status.Stage.Terminal() && now.Sub(sess.UpdatedAt) > o.opts.StaleAfter
	if sess.Status.Stage != record.StageError && !stale {
		return current, nil
	}

	resume, err := o.resumeStage(ctx, sess)
	if err != nil {
		return current, err
	}

	log := o.log.With("session_id", sid, "user_id", sess.UserID)
	if resume == "" {
		if err := sess.Reopen(record.StageParsing, stale, now); err != nil {
			return current, err
		}
		cause := &record.StageProcessingError{Stage: record.StageParsing, Message: uploadGoneMessage, Err: record.ErrUploadUnavailable}
		if err := sess.Fail(uploadGoneMessage, cause, now); err != nil {
			return current, err
		}
		if err := o.store.Save(ctx, sess, store.Update{}); err != nil {
			return current, err
		}
		log.Warn("retry impossible, upload gone")
		return SubmitResult{SessionID: sid, Status: sess.Status}, nil
	}

	if !o.runs.TryAcquire(sid, resume, now) {
		return current, nil
	}
	if err := sess.Reopen(resume, stale, now); err != nil {
		o.runs.Release(sid)
		return current, err
	}
	if err := o.store.Save(ctx, sess, store.Update{}); err != nil {
		o.runs.Release(sid)
		return current, err
	}
	log.Info("session retried", "resume", resume, "attempt", sess.Attempt, "stale", stale)

	j := &job{SessionID: sid, UserID: sess.UserID, Start: resume}
	if err := o.enqueueAcquired(ctx, sess, j); err != nil {
		return SubmitResult{SessionID: sid, Status: sess.Status}, err
	}
	return SubmitResult{SessionID: sid, Status: sess.Status}, nil
}

// resumeStage returns the stage after the session's checkpoint, moved back
// to the first stage whose artifact is missing if the two disagree. It
// returns "" when the session cannot be resumed because its upload is gone.
func (o *Orchestrator) resumeStage(ctx context.Context, sess *record.Session) (record.Stage, error) {
	art, err := o.store.Artifacts(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	resume := sess.ResumeStage()
	if missing := firstMissing(art); missing.Index() < resume.Index() {
		resume = missing
	}
	if resume.Index() > record.StageParsing.Index() {
		return resume, nil
	}
	// Uploading cannot rerun without the bytes; parse from the archive.
	ok, err := o.archive.HasUpload(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return record.StageParsing, nil
}

// firstMissing is the first stage whose artifact is not persisted.
func firstMissing(art record.Artifacts) record.Stage {
	switch {
	case art.TextSections == nil:
		return record.StageParsing
	case art.ExtractedData == nil:
		return record.StageExtracting
	case art.ValidationAnalysis == nil:
		return record.StageAnalyzing
	default:
		return record.StageValidating
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, sess *record.Session, j *job) error {
	if !o.runs.TryAcquire(j.SessionID, j.Start, o.now()) {
		return nil
	}
	return o.enqueueAcquired(ctx, sess, j)
}

// enqueueAcquired queues j, whose run is already registered. A full queue
// fails the session after archiving any upload it carries, so a later
// Retry resumes at parsing.
func (o *Orchestrator) enqueueAcquired(ctx context.Context, sess *record.Session, j *job) error {
	o.qmu.RLock()
	queued := false
	if !o.stopped {
		select {
		case o.queue <- j:
			queued = true
		default:
		}
	}
	o.qmu.RUnlock()
	if queued {
		return nil
	}

	o.runs.Release(j.SessionID)
	if j.data != nil {
		if err := o.archive.PutUpload(ctx, sess.ID, j.data); err != nil {
			o.log.Error("archive upload of rejected session failed", "session_id", sess.ID, "error", err)
		} else {
			sess.MarkCheckpoint(record.StageUploading, o.now())
		}
	}
	if err := sess.Fail("The server is busy. Please try again shortly.", record.ErrQueueFull, o.now()); err == nil {
		if err := o.store.Save(ctx, sess, store.Update{}); err != nil {
			o.log.Error("save queue-full status failed", "session_id", sess.ID, "error", err)
		}
	}
	return fmt.Errorf("%w (%d)", record.ErrQueueFull, o.opts.MaxQueueSize)
}

// owned loads a session the caller may see. Admins see every session.
func (o *Orchestrator) owned(ctx context.Context, id auth.Identity, sid string) (*record.Session, error) {
	sess, err := o.store.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if sess.UserID != id.UserID && id.Role != auth.RoleAdmin {
		return nil, record.ErrForbidden
	}
	return sess, nil
}

// GetStatus returns the stored status of a session.
func (o *Orchestrator) GetStatus(ctx context.Context, id auth.Identity, sid string) (record.Status, error) {
	sess, err := o.owned(ctx, id, sid)
	if err != nil {
		return record.Status{}, err
	}
	return sess.Status, nil
}

// GetResult returns the full artifacts of a completed session. Before
// completion it returns the current status with record.ErrNotReady.
func (o *Orchestrator) GetResult(ctx context.Context, id auth.Identity, sid string) (record.AnalysisResult, error) {
	sess, err := o.owned(ctx, id, sid)
	if err != nil {
		return record.AnalysisResult{}, err
	}
	if sess.Status.Stage != record.StageCompleted {
		return record.AnalysisResult{Status: sess.Status}, record.ErrNotReady
	}
	stored, err := o.store.GetResult(ctx, sess.UserID, sid)
	if err != nil {
		return record.AnalysisResult{Status: sess.Status}, err
	}
	return record.AnalysisResult{
		ExtractedData:      &stored.ExtractedData,
		ValidationAnalysis: stored.ValidationAnalysis,
		TextSections:       &stored.TextSections,
		Status:             sess.Status,
	}, nil
}

// Sessions lists the caller's sessions, newest first.
func (o *Orchestrator) Sessions(ctx context.Context, id auth.Identity, limit int) ([]*record.Session, error) {
	return o.store.List(ctx, id.UserID, limit)
}

// History returns the recorded status transitions of a session.
func (o *Orchestrator) History(ctx context.Context, id auth.Identity, sid string) ([]store.Event, error) {
	if _, err := o.owned(ctx, id, sid); err != nil {
		return nil, err
	}
	return o.store.History(ctx, sid)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Running returns the number of sessions being processed in this process.
func (o *Orchestrator) Running() int {
	return o.runs.Len()
}
