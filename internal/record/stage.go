package record

import "fmt"

// Stage is one ordered step of the processing pipeline.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageParsing    Stage = "parsing"
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageValidating Stage = "validating"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// StageOrder is the fixed processing order. StageError is not part of it.
var StageOrder = []Stage{
	StageUploading,
	StageParsing,
	StageExtracting,
	StageAnalyzing,
	StageValidating,
	StageCompleted,
}

var stageProgress = map[Stage]int{
	StageUploading:  0,
	StageParsing:    25,
	StageExtracting: 50,
	StageAnalyzing:  75,
	StageValidating: 90,
	StageCompleted:  100,
}

var stageMessages = map[Stage]string{
	StageUploading:  "Uploading document",
	StageParsing:    "Parsing document",
	StageExtracting: "Extracting record data",
	StageAnalyzing:  "Analyzing record sentences",
	StageValidating: "Validating analysis",
	StageCompleted:  "Analysis complete",
}

// Progress returns the nominal progress percentage for a stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Message returns the default human-readable message for a stage.
func (s Stage) Message() string {
	return stageMessages[s]
}

// Terminal reports whether no further transitions happen from s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageProgress[s]
	return ok || s == StageError
}

// Index returns the position of s in StageOrder, or -1 for StageError and unknown values.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s in StageOrder.
func (s Stage) Next() (Stage, error) {
	i := s.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return "", fmt.Errorf("stage %q has no successor", s)
	}
	return StageOrder[i+1], nil
}

// Status is the externally visible processing state of a session.
type Status struct {
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// StatusFor builds the nominal status for a non-error stage.
func StatusFor(stage Stage) Status {
	return Status{
		Stage:    stage,
		Progress: stage.Progress(),
		Message:  stage.Message(),
	}
}
