// Package job holds the mutable per-job status document. Render workers
// and the orchestrator mutate it concurrently; every read-modify-write
// goes through one mutex. External observers receive best-effort
// snapshots through a StatusSink.
package job

import (
	"sync"
	"time"
)

// Stage is the job's position in the pipeline.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageTranscribing Stage = "transcribing"
	StageAnalyzing    Stage = "analyzing"
	StageClipping     Stage = "clipping"
	StageUploading    Stage = "uploading"
	StageDone         Stage = "done"
	StageError        Stage = "error"
)

// StageStatus is the outcome recorded in the stage history.
type StageStatus string

const (
	StageRunning StageStatus = "running"
	StageOK      StageStatus = "done"
	StageFailed  StageStatus = "error"
	StageCached  StageStatus = "cached"
)

// StageRecord is one history entry. History is appended in actual
// completion order, which for overlapping stages (clipping/uploading)
// is not submission order.
type StageRecord struct {
	Name      Stage       `json:"name"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
	Status    StageStatus `json:"status"`
}

// ClipRecord is the caller-visible summary of one finished clip.
type ClipRecord struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Path     string  `json:"path"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size_bytes"`
}

type LogLine struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is an immutable copy of the job document.
type Snapshot struct {
	ID       string        `json:"job_id"`
	Source   string        `json:"source"`
	Title    string        `json:"title,omitempty"`
	Stage    Stage         `json:"stage"`
	Duration float64       `json:"duration_seconds,omitempty"`
	History  []StageRecord `json:"history"`
	Clips    []ClipRecord  `json:"clips"`
	Logs     []LogLine     `json:"logs"`
	Error    string        `json:"error,omitempty"`
}

// StatusSink receives job updates. Implementations must be treated as
// unreliable: the Job never lets a sink failure or delay reach the
// pipeline.
type StatusSink interface {
	JobUpdate(Snapshot)
}

// Job is the status document for one pipeline run.
type Job struct {
	mu      sync.Mutex
	id      string
	source  string
	title   string
	stage   Stage
	dur     float64
	history []StageRecord
	clips   []ClipRecord
	logs    []LogLine
	errMsg  string

	sink StatusSink
	now  func() time.Time
}

func New(id, source string, sink StatusSink) *Job {
	return &Job{
		id:     id,
		source: source,
		stage:  StageQueued,
		sink:   sink,
		now:    time.Now,
	}
}

func (j *Job) ID() string { return j.id }

// BeginStage opens a history record and moves the job to the stage.
func (j *Job) BeginStage(s Stage) {
	j.mu.Lock()
	j.stage = s
	j.history = append(j.history, StageRecord{Name: s, StartedAt: j.now().UTC(), Status: StageRunning})
	j.mu.Unlock()
	j.notify()
}

// EndStage closes the newest open record for the stage, in completion
// order, stamping the given outcome.
func (j *Job) EndStage(s Stage, status StageStatus) {
	j.mu.Lock()
	for i := len(j.history) - 1; i >= 0; i-- {
		if j.history[i].Name == s && j.history[i].Status == StageRunning {
			j.history[i].EndedAt = j.now().UTC()
			j.history[i].Status = status
			break
		}
	}
	j.mu.Unlock()
	j.notify()
}

// SetError records the terminal failure. Allowed from any active stage.
func (j *Job) SetError(reason string) {
	j.mu.Lock()
	j.stage = StageError
	j.errMsg = reason
	j.mu.Unlock()
	j.notify()
}

func (j *Job) SetDone() {
	j.mu.Lock()
	j.stage = StageDone
	j.mu.Unlock()
	j.notify()
}

func (j *Job) SetTitle(t string) {
	j.mu.Lock()
	j.title = t
	j.mu.Unlock()
}

func (j *Job) SetSourceDuration(seconds float64) {
	j.mu.Lock()
	j.dur = seconds
	j.mu.Unlock()
}

// AddClip appends a finished clip. Called concurrently by render
// workers, so clip order here is completion order.
func (j *Job) AddClip(c ClipRecord) {
	j.mu.Lock()
	j.clips = append(j.clips, c)
	j.mu.Unlock()
	j.notify()
}

// Log mirrors a pipeline log line into the document.
func (j *Job) Log(level, msg string) {
	j.mu.Lock()
	j.logs = append(j.logs, LogLine{Level: level, Message: msg, At: j.now().UTC()})
	j.mu.Unlock()
}

func (j *Job) Stage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		ID:       j.id,
		Source:   j.source,
		Title:    j.title,
		Stage:    j.stage,
		Duration: j.dur,
		History:  append([]StageRecord(nil), j.history...),
		Clips:    append([]ClipRecord(nil), j.clips...),
		Logs:     append([]LogLine(nil), j.logs...),
		Error:    j.errMsg,
	}
}

// notify pushes a snapshot to the sink without ever blocking or failing
// the caller: fire-and-forget goroutine, panics swallowed.
func (j *Job) notify() {
	if j.sink == nil {
		return
	}
	snap := j.Snapshot()
	go func() {
		defer func() { _ = recover() }()
		j.sink.JobUpdate(snap)
	}()
}
