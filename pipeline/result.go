package pipeline

import (
	"slices"
	"sync"
	"time"
)

// A Stage is a step of a pipeline invocation.
type Stage string

const (
	StageLoadDEM       Stage = "load_dem"
	StageLoadBoundary  Stage = "load_boundary"
	StageReproject     Stage = "reproject_boundary"
	StageClip          Stage = "clip"
	StageContours      Stage = "contours"
	StageContoursDXF   Stage = "contours_dxf"
	StagePoints        Stage = "points"
	StagePointsDXF     Stage = "points_dxf"
	StageMesh          Stage = "mesh"
	StageBoundaryDXF   Stage = "boundary_dxf"
	StageMergePoints   Stage = "merge_points"
	StageMergeContours Stage = "merge_contours"
	StageMergeMesh     Stage = "merge_mesh"
)

var stageOrder = []Stage{
	StageLoadDEM,
	StageLoadBoundary,
	StageReproject,
	StageClip,
	StageContours,
	StageContoursDXF,
	StagePoints,
	StagePointsDXF,
	StageMesh,
	StageBoundaryDXF,
	StageMergePoints,
	StageMergeContours,
	StageMergeMesh,
}

// A Status is the outcome of a stage.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Reasons for skipping a stage.
const (
	reasonNotRequested = "not requested"
	reasonUnavailable  = "prerequisite unavailable"
)

// A StageReport records the outcome of a stage.
type StageReport struct {
	Stage    Stage         `json:"stage"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// A Report describes a pipeline invocation.
type Report struct {
	ID          string
	BaseName    string
	ArchiveName string
	Outputs     OutputSet
	Stages      []StageReport
	Entries     []string
	Duration    time.Duration
}

// Stage returns the report of stage.
func (r *Report) Stage(stage Stage) (StageReport, bool) {
	for _, stageReport := range r.Stages {
		if stageReport.Stage == stage {
			return stageReport, true
		}
	}
	return StageReport{}, false
}

// Failures returns the number of failed stages.
func (r *Report) Failures() int {
	failures := 0
	for _, stageReport := range r.Stages {
		if stageReport.Status == StatusFailed {
			failures++
		}
	}
	return failures
}

// A result is the value or error produced by a stage. A zero result is
// skipped.
type result[T any] struct {
	value  T
	err    error
	status Status
}

func (r result[T]) ok() bool {
	return r.status == StatusSucceeded
}

// A recorder collects stage reports from concurrent branches.
type recorder struct {
	mutex   sync.Mutex
	reports []StageReport
}

func (r *recorder) record(report StageReport) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report)
}

// sorted returns the recorded reports in stage order.
func (r *recorder) sorted() []StageReport {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	reports := slices.Clone(r.reports)
	slices.SortStableFunc(reports, func(a, b StageReport) int {
		return slices.Index(stageOrder, a.Stage) - slices.Index(stageOrder, b.Stage)
	})
	return reports
}
