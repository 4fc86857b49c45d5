package types

// ProgressStatus is the per-file download phase reported by an engine.
// No ordering is guaranteed between phases of different files downloading
// concurrently.
type ProgressStatus string

const (
	ProgressInitiate ProgressStatus = "initiate"
	ProgressDownload ProgressStatus = "download"
	ProgressProgress ProgressStatus = "progress"
	ProgressReady    ProgressStatus = "ready"
	ProgressDone     ProgressStatus = "done"
)

// ProgressEvent is relayed verbatim from engine to UI. Two shapes exist:
// coarse {Text, Progress} and per-file {Status, File, Loaded, Total}.
// Consumers must support both.
type ProgressEvent struct {
	// Coarse shape
	Text     string  `json:"text,omitempty"`
	Progress float64 `json:"progress,omitempty"` // 0..1, only meaningful when Text is set

	// Per-file shape
	Status ProgressStatus `json:"status,omitempty"`
	File   string         `json:"file,omitempty"`
	Loaded int64          `json:"loaded,omitempty"`
	Total  int64          `json:"total,omitempty"`
}

// Coarse reports whether the event uses the coarse shape.
func (e ProgressEvent) Coarse() bool { return e.Status == "" }

// ProgressAggregator folds per-file events into a single LoadProgress by
// summing loaded/total across all known files. Coarse events overwrite the
// phase text only.
type ProgressAggregator struct {
	files map[string]ProgressEvent
	text  string
}

// NewProgressAggregator creates an empty aggregator.
func NewProgressAggregator() *ProgressAggregator {
	return &ProgressAggregator{files: make(map[string]ProgressEvent)}
}

// Observe records one event.
func (a *ProgressAggregator) Observe(e ProgressEvent) {
	if e.Coarse() {
		a.text = e.Text
		return
	}
	if e.File != "" {
		a.files[e.File] = e
	}
	if e.Status == ProgressDone || e.Status == ProgressReady {
		a.text = string(e.Status)
	}
}

// Snapshot returns the aggregate progress across all known files.
func (a *ProgressAggregator) Snapshot() LoadProgress {
	var loaded, total int64
	for _, e := range a.files {
		loaded += e.Loaded
		total += e.Total
	}
	return LoadProgress{LoadedBytes: loaded, TotalBytes: total, PhaseText: a.text}
}
