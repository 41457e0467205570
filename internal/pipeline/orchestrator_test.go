package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/store"
)

var (
	alice = auth.Identity{UserID: "alice", Role: auth.RoleStudent}
	bob   = auth.Identity{UserID: "bob", Role: auth.RoleStudent}
	admin = auth.Identity{UserID: "root", Role: auth.RoleAdmin}
)

var testSections = record.TextSections{
	CreativeActivities:  "Joined the robotics club. Built a sorting robot.",
	AcademicDevelopment: "Studied calculus.",
	DetailedAbilities:   "Wrote a report on climate change.",
}

type fakeParser struct {
	calls atomic.Int32
	err   error
}

func (p *fakeParser) Extract(ctx context.Context, data []byte, mime, filename string) (record.TextSections, error) {
	p.calls.Add(1)
	if p.err != nil {
		return record.TextSections{}, p.err
	}
	return testSections, nil
}

type fakeLLM struct {
	extractCalls atomic.Int32
	analyzeCalls atomic.Int32

	mu         sync.Mutex
	extractErr error
	gate       chan struct{}
}

func (l *fakeLLM) setExtractErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extractErr = err
}

func (l *fakeLLM) ExtractData(ctx context.Context, s record.TextSections) (record.ExtractedData, error) {
	l.extractCalls.Add(1)
	l.mu.Lock()
	err := l.extractErr
	l.mu.Unlock()
	if err != nil {
		return record.ExtractedData{}, err
	}
	return record.ExtractedData{Activities: []record.Activity{{Year: 1, Area: "club", Hours: 10, Description: "Robotics"}}}, nil
}

func (l *fakeLLM) Analyze(ctx context.Context, s record.TextSections) (record.ValidationAnalysis, error) {
	l.analyzeCalls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return record.ValidationAnalysis{
		record.CategoryRedLine:   {{Sentence: "Built a sorting robot.", Feedback: "Concrete effort."}},
		record.CategoryBlackLine: {{Sentence: "Not in the record.", Feedback: "dropped by validation"}},
	}, nil
}

type harness struct {
	orch   *Orchestrator
	store  *store.Store
	mr     *miniredis.Miniredis
	parser *fakeParser
	llm    *fakeLLM
}

func newHarness(t *testing.T, opts Options, llm *fakeLLM, start bool) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := store.New(rdb, store.Options{SessionTTL: time.Hour, ResultTTL: time.Hour})

	if llm == nil {
		llm = &fakeLLM{}
	}
	p := &fakeParser{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.MinUploadBytes == 0 {
		opts.MinUploadBytes = 10
	}
	o := NewOrchestrator(st, nil, p, llm, log, opts)
	if start {
		o.Start(context.Background())
		t.Cleanup(o.Stop)
	}
	return &harness{orch: o, store: st, mr: mr, parser: p, llm: llm}
}

func textUpload(body string) Upload {
	return Upload{Filename: "record.txt", Data: []byte(body)}
}

func waitForStage(t *testing.T, o *Orchestrator, id auth.Identity, sid string, want record.Stage) record.Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := o.GetStatus(context.Background(), id, sid)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.Stage == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s stuck at %s (%s), want %s", sid, st.Stage, st.Message, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	h := newHarness(t, Options{WorkerCount: 2}, nil, true)
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, alice, textUpload("창의적 체험활동 record body"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status.Stage != record.StageUploading || res.Status.Progress != 0 {
		t.Errorf("initial status = %+v", res.Status)
	}
	st := waitForStage(t, h.orch, alice, res.SessionID, record.StageCompleted)
	if st.Progress != 100 {
		t.Errorf("progress = %d, want 100", st.Progress)
	}

	result, err := h.orch.GetResult(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.TextSections == nil || result.TextSections.CreativeActivities != testSections.CreativeActivities {
		t.Errorf("text sections = %+v", result.TextSections)
	}
	if result.ExtractedData == nil || len(result.ExtractedData.Activities) != 1 {
		t.Errorf("extracted data = %+v", result.ExtractedData)
	}
	if got := result.ValidationAnalysis[record.CategoryRedLine]; len(got) != 1 {
		t.Errorf("red_line feedback = %+v", got)
	}
	if got := result.ValidationAnalysis[record.CategoryBlackLine]; len(got) != 0 {
		t.Errorf("expected sentence absent from the record to be dropped, got %+v", got)
	}

	history, err := h.orch.History(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	wantStages := []record.Stage{
		record.StageUploading, record.StageParsing, record.StageExtracting,
		record.StageAnalyzing, record.StageValidating, record.StageCompleted,
	}
	if len(history) != len(wantStages) {
		t.Fatalf("history has %d events, want %d", len(history), len(wantStages))
	}
	last := -1
	for i, ev := range history {
		if ev.Status.Stage != wantStages[i] {
			t.Errorf("event %d stage = %s, want %s", i, ev.Status.Stage, wantStages[i])
		}
		if ev.Status.Progress < last {
			t.Errorf("progress went backwards at event %d: %d < %d", i, ev.Status.Progress, last)
		}
		last = ev.Status.Progress
	}

	stored, err := h.store.GetResult(ctx, "alice", res.SessionID)
	if err != nil {
		t.Fatalf("stored result: %v", err)
	}
	if stored.CompletedAt.IsZero() || stored.CreatedAt.IsZero() {
		t.Error("stored result timestamps missing")
	}
}

func TestSubmitRejectsInvalidUploads(t *testing.T) {
	h := newHarness(t, Options{MinUploadBytes: 16, MaxUploadBytes: 64}, nil, false)
	ctx := context.Background()

	cases := []struct {
		name     string
		up       Upload
		tooLarge bool
	}{
		{"empty", textUpload(""), false},
		{"too small", textUpload("tiny"), false},
		{"too large", textUpload(strings.Repeat("a", 65)), true},
		{"binary", Upload{Filename: "x.bin", Data: append([]byte{0x00, 0x01, 0x02, 0xff}, make([]byte, 40)...)}, false},
		{"bad session id", Upload{Filename: "r.txt", Data: []byte("a valid plain text body"), SessionID: "abc"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.Submit(ctx, alice, tc.up)
			var uve *record.UploadValidationError
			if !errors.As(err, &uve) {
				t.Fatalf("expected UploadValidationError, got %v", err)
			}
			if uve.TooLarge != tc.tooLarge {
				t.Errorf("TooLarge = %v, want %v", uve.TooLarge, tc.tooLarge)
			}
		})
	}

	sessions, err := h.orch.Sessions(ctx, alice, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions after rejected uploads, got %d", len(sessions))
	}
}

func TestUploadBoundsInclusive(t *testing.T) {
	h := newHarness(t, Options{MinUploadBytes: 16, MaxUploadBytes: 32}, nil, false)
	for _, n := range []int{16, 32} {
		if _, err := h.orch.validateUpload(textUpload(strings.Repeat("b", n))); err != nil {
			t.Errorf("%d bytes rejected: %v", n, err)
		}
	}
}

func TestStageFailureThenRetryResumes(t *testing.T) {
	llm := &fakeLLM{}
	llm.setExtractErr(errors.New("model unavailable"))
	h := newHarness(t, Options{WorkerCount: 1}, llm, true)
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitForStage(t, h.orch, alice, res.SessionID, record.StageError)
	if st.Message == "" || !strings.Contains(st.Error, "model unavailable") {
		t.Errorf("error status = %+v", st)
	}
	if st.Progress != record.StageExtracting.Progress() {
		t.Errorf("error progress = %d, want progress reached at extracting", st.Progress)
	}

	llm.setExtractErr(nil)
	retried, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status.Stage != record.StageExtracting {
		t.Errorf("retry resumed at %s, want extracting", retried.Status.Stage)
	}
	waitForStage(t, h.orch, alice, res.SessionID, record.StageCompleted)

	if n := h.parser.calls.Load(); n != 1 {
		t.Errorf("parser called %d times, want 1 (sections reused)", n)
	}
	if n := llm.extractCalls.Load(); n != 2 {
		t.Errorf("extract called %d times, want 2", n)
	}
	sess, _ := h.store.Get(ctx, res.SessionID)
	if sess.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", sess.Attempt)
	}
}

func TestRetryWithoutUploadOrSections(t *testing.T) {
	h := newHarness(t, Options{WorkerCount: 1}, nil, true)
	h.parser.err = errors.New("no section headings")
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStage(t, h.orch, alice, res.SessionID, record.StageError)
	h.mr.Del("recordlens:session:" + res.SessionID + ":upload")

	retried, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status.Stage != record.StageError || retried.Status.Message != uploadGoneMessage {
		t.Errorf("status = %+v, want upload-gone error", retried.Status)
	}
}

func TestGetResultNotReadyAndSingleFlight(t *testing.T) {
	llm := &fakeLLM{gate: make(chan struct{})}
	h := newHarness(t, Options{WorkerCount: 2}, llm, true)
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStage(t, h.orch, alice, res.SessionID, record.StageAnalyzing)

	partial, err := h.orch.GetResult(ctx, alice, res.SessionID)
	if !errors.Is(err, record.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if partial.Status.Stage != record.StageAnalyzing || partial.ExtractedData != nil {
		t.Errorf("not-ready result = %+v", partial)
	}

	again, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if again.Status.Stage != record.StageAnalyzing {
		t.Errorf("retry on running session changed status: %+v", again.Status)
	}

	dup, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if dup.SessionID != res.SessionID {
		t.Errorf("duplicate upload created session %s, want %s", dup.SessionID, res.SessionID)
	}

	close(llm.gate)
	waitForStage(t, h.orch, alice, res.SessionID, record.StageCompleted)
	if n := llm.analyzeCalls.Load(); n != 1 {
		t.Errorf("analyze called %d times, want 1", n)
	}
}

func TestOwnership(t *testing.T) {
	h := newHarness(t, Options{}, nil, false)
	ctx := context.Background()
	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := h.orch.GetStatus(ctx, bob, res.SessionID); !errors.Is(err, record.ErrForbidden) {
		t.Errorf("bob GetStatus err = %v, want ErrForbidden", err)
	}
	if _, err := h.orch.Retry(ctx, bob, res.SessionID); !errors.Is(err, record.ErrForbidden) {
		t.Errorf("bob Retry err = %v, want ErrForbidden", err)
	}
	if _, err := h.orch.GetStatus(ctx, admin, res.SessionID); err != nil {
		t.Errorf("admin GetStatus: %v", err)
	}
	if _, err := h.orch.GetStatus(ctx, alice, "missing"); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	h := newHarness(t, Options{}, nil, false)
	ctx := context.Background()
	key := "6f1c2b1e-3a4d-4c5e-9f60-718293a4b5c6"

	up := Upload{Filename: "r.txt", Data: []byte("a plain text student record"), SessionID: key}
	first, err := h.orch.Submit(ctx, alice, up)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.SessionID != key {
		t.Errorf("session id = %s, want %s", first.SessionID, key)
	}
	up.Data = []byte("different bytes, same key")
	second, err := h.orch.Submit(ctx, alice, up)
	if err != nil || second.SessionID != key {
		t.Errorf("resubmit = %+v, %v", second, err)
	}
	var uve *record.UploadValidationError
	if _, err := h.orch.Submit(ctx, bob, up); !errors.As(err, &uve) {
		t.Errorf("key reuse by another user err = %v, want UploadValidationError", err)
	}
}

func TestQueueFullFailsSession(t *testing.T) {
	h := newHarness(t, Options{MaxQueueSize: 1}, nil, false)
	ctx := context.Background()

	if _, err := h.orch.Submit(ctx, alice, textUpload("first plain text record")); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	res, err := h.orch.Submit(ctx, alice, textUpload("second plain text record"))
	if !errors.Is(err, record.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	st, err := h.orch.GetStatus(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage != record.StageError {
		t.Errorf("stage = %s, want error", st.Stage)
	}
}

func TestQueueFullSessionCanBeRetried(t *testing.T) {
	h := newHarness(t, Options{MaxQueueSize: 1}, nil, false)
	ctx := context.Background()

	first, err := h.orch.Submit(ctx, alice, textUpload("first plain text record"))
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	res, err := h.orch.Submit(ctx, alice, textUpload("second plain text record"))
	if !errors.Is(err, record.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if ok, err := h.store.HasUpload(ctx, res.SessionID); err != nil || !ok {
		t.Fatalf("rejected upload archived = %v, %v, want true", ok, err)
	}

	<-h.orch.queue
	h.orch.runs.Release(first.SessionID)

	retried, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status.Stage != record.StageParsing {
		t.Fatalf("retry status = %+v, want parsing", retried.Status)
	}

	h.orch.Start(ctx)
	t.Cleanup(h.orch.Stop)
	waitForStage(t, h.orch, alice, res.SessionID, record.StageCompleted)
	if n := h.parser.calls.Load(); n != 1 {
		t.Errorf("parser called %d times, want 1", n)
	}
}

func TestFailedStageWriteFailsSession(t *testing.T) {
	llm := &fakeLLM{gate: make(chan struct{})}
	h := newHarness(t, Options{WorkerCount: 1}, llm, true)
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStage(t, h.orch, alice, res.SessionID, record.StageAnalyzing)

	h.mr.SetError("READONLY replica")
	close(llm.gate)
	deadline := time.Now().Add(3 * time.Second)
	for h.orch.Running() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("run still registered after failed write")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.mr.SetError("")

	st := waitForStage(t, h.orch, alice, res.SessionID, record.StageError)
	if st.Message != stageFailureMessages[record.StageAnalyzing] {
		t.Errorf("error message = %q", st.Message)
	}

	retried, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status.Stage != record.StageAnalyzing {
		t.Errorf("retry resumed at %s, want analyzing", retried.Status.Stage)
	}
	waitForStage(t, h.orch, alice, res.SessionID, record.StageCompleted)
}

func TestResumeStage(t *testing.T) {
	ctx := context.Background()
	data := record.ExtractedData{}
	cases := []struct {
		name       string
		checkpoint record.Stage
		update     store.Update
		archived   bool
		want       record.Stage
	}{
		{"checkpoint ahead of artifacts", record.StageAnalyzing, store.Update{TextSections: &testSections}, false, record.StageExtracting},
		{"artifacts ahead of checkpoint", record.StageParsing, store.Update{TextSections: &testSections, ExtractedData: &data, ValidationAnalysis: record.ValidationAnalysis{}}, false, record.StageExtracting},
		{"all artifacts", record.StageAnalyzing, store.Update{TextSections: &testSections, ExtractedData: &data, ValidationAnalysis: record.ValidationAnalysis{}}, false, record.StageValidating},
		{"nothing but the archive", "", store.Update{}, true, record.StageParsing},
		{"upload gone", record.StageUploading, store.Update{}, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{}, nil, false)
			sess := record.NewSession("s1", alice.UserID, time.Now())
			if err := h.store.Create(ctx, sess); err != nil {
				t.Fatal(err)
			}
			sess.Checkpoint = tc.checkpoint
			if err := h.store.Save(ctx, sess, tc.update); err != nil {
				t.Fatal(err)
			}
			if tc.archived {
				if err := h.store.PutUpload(ctx, "s1", []byte("bytes")); err != nil {
					t.Fatal(err)
				}
			}
			got, err := h.orch.resumeStage(ctx, sess)
			if err != nil {
				t.Fatalf("resumeStage: %v", err)
			}
			if got != tc.want {
				t.Errorf("resume = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStaleSessionRecovery(t *testing.T) {
	h := newHarness(t, Options{StaleAfter: time.Minute}, nil, false)
	ctx := context.Background()
	clock := time.Now()
	h.orch.now = func() time.Time { return clock }

	res, err := h.orch.Submit(ctx, alice, textUpload("a plain text student record"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Simulate a restart: the queued run is lost and nothing holds the session.
	<-h.orch.queue
	h.orch.runs.Release(res.SessionID)

	if r, _ := h.orch.Retry(ctx, alice, res.SessionID); r.Status.Stage != record.StageUploading || h.orch.QueueDepth() != 0 {
		t.Fatalf("fresh session should not be retried: %+v", r.Status)
	}

	clock = clock.Add(2 * time.Minute)
	r, err := h.orch.Retry(ctx, alice, res.SessionID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if r.Status.Stage != record.StageError || r.Status.Message != uploadGoneMessage {
		t.Errorf("stale session without archive = %+v, want upload-gone error", r.Status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, nil, false)
	h.orch.Start(context.Background())
	h.orch.Stop()
	h.orch.Stop()
	if _, err := h.orch.Submit(context.Background(), alice, textUpload("after stop plain text")); !errors.Is(err, record.ErrQueueFull) {
		t.Errorf("submit after stop err = %v, want ErrQueueFull", err)
	}
}

func TestValidateArtifacts(t *testing.T) {
	sections := testSections
	data := record.ExtractedData{}
	_, err := validateArtifacts(record.Artifacts{TextSections: &record.TextSections{}, ExtractedData: &data, ValidationAnalysis: record.ValidationAnalysis{}})
	if err == nil {
		t.Error("expected error for empty sections")
	}
	if _, err := validateArtifacts(record.Artifacts{TextSections: &sections}); err == nil {
		t.Error("expected error for missing extracted data")
	}
	res, err := validateArtifacts(record.Artifacts{
		TextSections:  &sections,
		ExtractedData: &data,
		ValidationAnalysis: record.ValidationAnalysis{
			record.CategoryBlueLine: {{Sentence: " Studied calculus. ", Feedback: "ok"}, {Sentence: "gone", Feedback: "x"}},
		},
	})
	if err != nil {
		t.Fatalf("validateArtifacts: %v", err)
	}
	if len(res.ValidationAnalysis[record.CategoryBlueLine]) != 1 {
		t.Errorf("blue_line = %+v", res.ValidationAnalysis[record.CategoryBlueLine])
	}
	if res.ExtractedData.Activities == nil || len(res.ValidationAnalysis) != len(record.Categories) {
		t.Error("expected normalized result")
	}
}
