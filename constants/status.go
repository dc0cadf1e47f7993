package constants

// JobState is the coarse lifecycle state recorded in the job registry
// and in each job's status artifact.
type JobState string

const (
	JobStateCreated JobState = "created"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateError   JobState = "error"
)

// StopReason explains why a control loop run terminated.
type StopReason string

const (
	StopGapsResolved    StopReason = "gaps_resolved"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopNonImaging      StopReason = "non_imaging"
	StopException       StopReason = "exception"
)

// Step labels written to the status record at each transition. These are
// externally observable; the UI keys off them.
const (
	StepStart          = "loop.start"
	StepPreflight      = "preflight"
	StepTriage         = "triage"
	StepBaselineStart  = "extract.start"
	StepBaselineDone   = "extract.done"
	StepWidenStart     = "reextract_wide.start"
	StepWidenDone      = "reextract_wide.done"
	StepCompleted      = "completed"
)

// Artifact file names inside a job directory.
const (
	PagesArtifact      = "pages.json"
	DocFlagsArtifact   = "doc_flags.json"
	SectionsArtifact   = "sections.json"
	CandidatesArtifact = "candidates.jsonl"
	WinnersArtifact    = "extracted.json"
	GapReportArtifact  = "gap_report.json"
	StatusArtifact     = "status.json"
)

// SchemaVersion is stamped into every structured artifact this service
// produces, for forward compatibility of external readers.
const SchemaVersion = 1
