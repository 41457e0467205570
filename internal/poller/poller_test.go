package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/recordlens/internal/record"
)

type step struct {
	status record.Status
	err    error
}

type fakeSource struct {
	mu          sync.Mutex
	steps       []step
	next        int
	statusCalls int
	resultCalls int
	resultErr   error
}

func (f *fakeSource) GetStatus(ctx context.Context, sid string) (record.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	s := f.steps[min(f.next, len(f.steps)-1)]
	f.next++
	return s.status, s.err
}

func (f *fakeSource) GetResult(ctx context.Context, sid string) (record.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if f.resultErr != nil {
		return record.AnalysisResult{}, f.resultErr
	}
	return record.AnalysisResult{Status: record.StatusFor(record.StageCompleted)}, nil
}

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.resultCalls
}

type recorder struct {
	mu       sync.Mutex
	statuses []record.Status
	results  int
	errs     []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStatus: func(st record.Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, st)
			r.mu.Unlock()
		},
		OnResult: func(record.AnalysisResult) {
			r.mu.Lock()
			r.results++
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func newTestPoller(src Source, interval time.Duration) *Poller {
	return New(src, slog.New(slog.NewTextHandler(io.Discard, nil)), WithInterval(interval))
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollUntilCompleted(t *testing.T) {
	src := &fakeSource{steps: []step{
		{status: record.StatusFor(record.StageUploading)},
		{err: &TransientError{Err: errors.New("connection reset")}},
		{status: record.StatusFor(record.StageAnalyzing)},
		{status: record.StatusFor(record.StageCompleted)},
	}}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "s1", rec.handlers())
	waitDone(t, h)

	statusCalls, resultCalls := src.counts()
	if statusCalls != 4 {
		t.Errorf("status calls = %d, want 4", statusCalls)
	}
	if resultCalls != 1 {
		t.Errorf("result calls = %d, want exactly 1", resultCalls)
	}
	if len(rec.statuses) != 3 {
		t.Errorf("statuses delivered = %d, want 3 (transient error swallowed)", len(rec.statuses))
	}
	if rec.results != 1 || len(rec.errs) != 0 {
		t.Errorf("results = %d, errors = %v", rec.results, rec.errs)
	}
	if h.Last().Stage != record.StageCompleted {
		t.Errorf("last = %+v", h.Last())
	}
}

func TestPollStopsOnErrorStage(t *testing.T) {
	failed := record.Status{Stage: record.StageError, Message: "Could not analyze the record.", Error: "timeout"}
	src := &fakeSource{steps: []step{
		{status: record.StatusFor(record.StageParsing)},
		{status: failed},
	}}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "s1", rec.handlers())
	waitDone(t, h)

	if _, resultCalls := src.counts(); resultCalls != 0 {
		t.Errorf("result fetched %d times for a failed session", resultCalls)
	}
	if len(rec.errs) != 1 {
		t.Fatalf("errors = %v, want one", rec.errs)
	}
	var sf *StageFailedError
	if !errors.As(rec.errs[0], &sf) || sf.Status != failed {
		t.Errorf("error = %v, want StageFailedError with the stored status", rec.errs[0])
	}
}

func TestPollNotFoundSynthesizesErrorStatus(t *testing.T) {
	src := &fakeSource{steps: []step{{err: record.ErrNotFound}}}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "gone", rec.handlers())
	waitDone(t, h)

	if len(rec.statuses) != 1 || rec.statuses[0].Stage != record.StageError {
		t.Fatalf("statuses = %+v, want one synthetic error status", rec.statuses)
	}
	if rec.statuses[0].Message != notFoundMessage {
		t.Errorf("message = %q", rec.statuses[0].Message)
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], record.ErrNotFound) {
		t.Errorf("errors = %v", rec.errs)
	}
}

func TestPollStopsOnPermanentError(t *testing.T) {
	denied := errors.New("unauthorized")
	src := &fakeSource{steps: []step{{err: denied}}}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "s1", rec.handlers())
	waitDone(t, h)

	if statusCalls, _ := src.counts(); statusCalls != 1 {
		t.Errorf("status calls = %d, want 1", statusCalls)
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], denied) {
		t.Errorf("errors = %v", rec.errs)
	}
}

func TestPollResultFetchedOnceEvenOnFailure(t *testing.T) {
	src := &fakeSource{
		steps:     []step{{status: record.StatusFor(record.StageCompleted)}},
		resultErr: &TransientError{Err: errors.New("timeout")},
	}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "s1", rec.handlers())
	waitDone(t, h)

	statusCalls, resultCalls := src.counts()
	if statusCalls != 1 || resultCalls != 1 {
		t.Errorf("calls = %d status, %d result; want 1 and 1", statusCalls, resultCalls)
	}
	if rec.results != 0 || len(rec.errs) != 1 {
		t.Errorf("results = %d, errors = %v", rec.results, rec.errs)
	}
}

func TestFirstPollIsImmediate(t *testing.T) {
	src := &fakeSource{steps: []step{{status: record.StatusFor(record.StageParsing)}}}
	got := make(chan record.Status, 1)
	h := newTestPoller(src, time.Hour).Start(context.Background(), "s1", Handlers{
		OnStatus: func(st record.Status) {
			select {
			case got <- st:
			default:
			}
		},
	})
	defer h.Cancel()

	select {
	case st := <-got:
		if st.Stage != record.StageParsing {
			t.Errorf("status = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no status before the first interval elapsed")
	}
}

func TestCancelStopsPolling(t *testing.T) {
	src := &fakeSource{steps: []step{{status: record.StatusFor(record.StageAnalyzing)}}}
	rec := &recorder{}
	h := newTestPoller(src, time.Millisecond).Start(context.Background(), "s1", rec.handlers())

	deadline := time.Now().Add(time.Second)
	for {
		if n, _ := src.counts(); n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller never polled")
		}
		time.Sleep(time.Millisecond)
	}
	h.Cancel()
	h.Cancel()
	waitDone(t, h)

	after, _ := src.counts()
	time.Sleep(20 * time.Millisecond)
	if n, _ := src.counts(); n != after {
		t.Errorf("polled %d more times after cancel", n-after)
	}
	if len(rec.errs) != 0 {
		t.Errorf("cancel should not report errors, got %v", rec.errs)
	}
}

func TestParentContextCancelStopsPolling(t *testing.T) {
	src := &fakeSource{steps: []step{{status: record.StatusFor(record.StageAnalyzing)}}}
	ctx, cancel := context.WithCancel(context.Background())
	h := newTestPoller(src, time.Millisecond).Start(ctx, "s1", Handlers{})
	cancel()
	waitDone(t, h)
}
