// Package job defines document jobs, their modes and request validation.
package job

import (
	"time"
)

// Mode selects the stage plan a job runs through.
type Mode string

// Supported job modes.
const (
	ModeOCR          Mode = "ocr"
	ModeMarkdown     Mode = "markdown"
	ModeMerge        Mode = "merge"
	ModeImagesToPDF  Mode = "images-to-pdf"
	ModePDFToImages  Mode = "pdf-to-images"
	ModeSplit        Mode = "split"
	ModeConvertImage Mode = "convert-image"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeOCR, ModeMarkdown, ModeMerge, ModeImagesToPDF, ModePDFToImages, ModeSplit, ModeConvertImage}

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// Stage is a step of a job's stage plan. Stages run in declaration order.
type Stage string

// Pipeline stages.
const (
	StageUpload  Stage = "upload"
	StageReady   Stage = "ready"
	StageExtract Stage = "extract"
	StageProcess Stage = "process"
	StageConvert Stage = "convert"
	StageCleanup Stage = "cleanup"
)

// TerminalState records how a job ended.
type TerminalState string

// Terminal states. A job is TerminalNone until its final event is emitted.
const (
	TerminalNone      TerminalState = ""
	TerminalCompleted TerminalState = "completed"
	TerminalFailed    TerminalState = "failed"
	TerminalCancelled TerminalState = "cancelled"
)

// DefaultModel is used for OCR jobs that do not name a model.
const DefaultModel = "NexaAI/DeepSeek-OCR-GGUF:BF16"

// Options tune how a job's stages behave.
type Options struct {
	Model          string `json:"model,omitempty"`
	UseCoordinates bool   `json:"useCoordinates,omitempty"`
	JoinImages     bool   `json:"joinImages,omitempty"`
	CustomPrompt   string `json:"customPrompt,omitempty"`
	PageOrder      []int  `json:"pageOrder,omitempty"` // 1-based; split mode only
	UseNative      bool   `json:"useNative,omitempty"` // permit text-extraction fallback for PDFs
	ImageFormat    string `json:"imageFormat,omitempty"`
}

// Callback configures webhook delivery of terminal job events.
type Callback struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Key    string   `json:"key,omitempty"` // HMAC signing key
}

// Request is a validated-on-receipt job submission.
type Request struct {
	ID       string    `json:"id,omitempty"`
	Mode     Mode      `json:"mode"`
	Options  Options   `json:"options"`
	Callback *Callback `json:"callback,omitempty"`
}

// Upload is one file received with a request.
type Upload struct {
	Name string // client-supplied file name
	Path string // temporary location on disk, moved into the job upload dir
	Size int64
}

// Job is one run of the pipeline. It is owned by a single executor run.
type Job struct {
	ID         string
	Mode       Mode
	Options    Options
	Callback   *Callback
	InputFiles []string // absolute paths inside UploadDir, in submission order
	UploadDir  string
	WorkDir    string
	OutputDir  string
	CreatedAt  time.Time

	Stage    Stage
	Terminal TerminalState
}

// UsesEngine reports whether the job's plan can require an inference engine.
func (j *Job) UsesEngine() bool {
	return j.Mode == ModeOCR
}

// Status is the externally visible state of an active job.
type Status struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	Stage     Stage     `json:"stage"`
	Files     int       `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListResponse represents the response for listing active jobs.
type ListResponse struct {
	Jobs []Status `json:"jobs"`
}

// Record is the persisted outcome of a finished job.
type Record struct {
	ID           string        `json:"id"`
	Mode         Mode          `json:"mode"`
	State        TerminalState `json:"state"`
	Error        string        `json:"error,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	Files        int           `json:"files"`
	FallbackUsed bool          `json:"fallbackUsed,omitempty"`
	Artifacts    []string      `json:"artifacts,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
}

// Duration returns how long the job ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.CreatedAt)
}
