package record

import (
	"fmt"
	"time"
)

// Session tracks one uploaded document through the pipeline.
type Session struct {
	ID          string     `json:"sessionId"`
	UserID      string     `json:"userId"`
	Filename    string     `json:"filename"`
	MIMEType    string     `json:"mimeType"`
	Size        int        `json:"size"`
	ContentHash string     `json:"contentHash"`
	Status      Status     `json:"status"`
	Checkpoint  Stage      `json:"checkpoint,omitempty"` // last stage whose artifact is persisted
	FailedStage Stage      `json:"failedStage,omitempty"`
	Attempt     int        `json:"attempt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewSession creates a session at the uploading stage.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Status:    StatusFor(StageUploading),
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves a non-terminal session forward to next. Moving backwards,
// staying in place or leaving a terminal stage is rejected.
func (s *Session) Advance(next Stage, now time.Time) error {
	cur := s.Status.Stage
	if cur.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, cur)
	}
	if next == StageError {
		return fmt.Errorf("%w: use Fail to enter the error stage", ErrInvalidTransition)
	}
	if next.Index() <= cur.Index() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	s.Status = StatusFor(next)
	s.UpdatedAt = now
	if next == StageCompleted {
		t := now
		s.CompletedAt = &t
	}
	return nil
}

// MarkCheckpoint records that the artifact of stage has been persisted.
func (s *Session) MarkCheckpoint(stage Stage, now time.Time) {
	if stage.Index() > s.Checkpoint.Index() {
		s.Checkpoint = stage
	}
	s.UpdatedAt = now
}

// Fail moves a non-terminal session into the terminal error stage, keeping
// the progress reached so far.
func (s *Session) Fail(message string, cause error, now time.Time) error {
	cur := s.Status.Stage
	if cur.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, cur)
	}
	s.FailedStage = cur
	s.Status = Status{
		Stage:    StageError,
		Progress: s.Status.Progress,
		Message:  message,
	}
	if cause != nil {
		s.Status.Error = cause.Error()
	}
	s.UpdatedAt = now
	return nil
}

// Reopen starts a new attempt at stage. Only failed sessions, or sessions
// whose run was abandoned (stale), may be reopened.
func (s *Session) Reopen(stage Stage, stale bool, now time.Time) error {
	if s.Status.Stage == StageCompleted {
		return fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	}
	if s.Status.Stage != StageError && !stale {
		return fmt.Errorf("%w: session is still %s", ErrInvalidTransition, s.Status.Stage)
	}
	if stage.Index() < 0 || stage == StageCompleted {
		return fmt.Errorf("%w: cannot reopen at %s", ErrInvalidTransition, stage)
	}
	s.Status = StatusFor(stage)
	s.FailedStage = ""
	s.Attempt++
	s.UpdatedAt = now
	return nil
}

// ResumeStage returns the first stage that still has work to do given the
// persisted checkpoint.
func (s *Session) ResumeStage() Stage {
	if s.Checkpoint == "" {
		return StageUploading
	}
	next, err := s.Checkpoint.Next()
	if err != nil {
		return StageCompleted
	}
	return next
}
