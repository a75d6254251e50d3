package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunFetching     RunStatus = "fetching"
	RunMatching     RunStatus = "matching"
	RunSnapshotting RunStatus = "snapshotting"
	RunScoring      RunStatus = "scoring"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Stage names a step of the pipeline.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageMatch    Stage = "match"
	StageSnapshot Stage = "snapshot"
	StageScore    Stage = "score"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageSuccess  StageStatus = "success"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageError is a structured error recorded against a stage.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StageReport records what happened in one stage.
type StageReport struct {
	Stage      Stage          `json:"stage"`
	Status     StageStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Counts     map[string]int `json:"counts,omitempty"`
	Errors     []StageError   `json:"errors,omitempty"`
}

// PipelineRun is the persisted record of one pipeline invocation.
type PipelineRun struct {
	ID           string        `json:"id"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Stages       []StageReport `json:"stages"`
	MatchCount   int           `json:"market_matches_count"`
	DatasetID    string        `json:"shared_dataset_id,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Stage returns the report for s, if recorded.
func (r PipelineRun) Stage(s Stage) (StageReport, bool) {
	for _, rep := range r.Stages {
		if rep.Stage == s {
			return rep, true
		}
	}
	return StageReport{}, false
}

// Degraded reports whether any stage finished degraded.
func (r PipelineRun) Degraded() bool {
	for _, rep := range r.Stages {
		if rep.Status == StageDegraded {
			return true
		}
	}
	return false
}
