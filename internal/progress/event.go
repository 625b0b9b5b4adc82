// Package progress defines job progress events and the stream that carries them.
package progress

// Status is the kind of a progress record.
type Status string

// Progress statuses in the order a successful job emits them.
const (
	StatusUploading  Status = "uploading"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusExtracting Status = "extracting"
	StatusProcessing Status = "processing"
	StatusConverting Status = "converting"
	StatusComplete   Status = "complete"
	StatusCleanup    Status = "cleanup"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Event is one immutable progress record.
type Event struct {
	Status       Status   `json:"status"`
	Message      string   `json:"message,omitempty"`
	Progress     *int     `json:"progress,omitempty"`
	MarkdownURL  string   `json:"markdownUrl,omitempty"`
	PDFURL       string   `json:"pdfUrl,omitempty"`
	ImageURLs    []string `json:"imageUrls,omitempty"`
	Error        string   `json:"error,omitempty"`
	JobID        string   `json:"jobId,omitempty"`
	FallbackUsed bool     `json:"fallbackUsed,omitempty"`
}

// Terminal reports whether no record may follow e.
func (e Event) Terminal() bool {
	return e.Status == StatusDone || e.Status == StatusError
}

// Percent returns the progress value, or -1 when absent.
func (e Event) Percent() int {
	if e.Progress == nil {
		return -1
	}
	return *e.Progress
}

// New creates an event with a message.
func New(status Status, message string) Event {
	return Event{Status: status, Message: message}
}

// WithProgress creates an event carrying a percentage.
func WithProgress(status Status, message string, pct int) Event {
	p := pct
	return Event{Status: status, Message: message, Progress: &p}
}

// Failed creates the terminal error record.
func Failed(message string, err error) Event {
	ev := Event{Status: StatusError, Message: message}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
