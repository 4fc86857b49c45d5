package types

// EngineState is the lifecycle state of an engine session singleton.
type EngineState string

const (
	StateUninitialized EngineState = "uninitialized"
	StateLoading       EngineState = "loading"
	StateReady         EngineState = "ready"
	StateError         EngineState = "error"
	StateExpired       EngineState = "expired"
)

// Usable reports whether a generation call may be issued in this state.
func (s EngineState) Usable() bool { return s == StateReady }

// CanTransition validates a lifecycle transition. Expiry and error may hit
// at any point after load starts; recovery always goes back through loading.
func (s EngineState) CanTransition(to EngineState) bool {
	switch s {
	case StateUninitialized:
		return to == StateLoading
	case StateLoading:
		return to == StateReady || to == StateError
	case StateReady:
		return to == StateExpired || to == StateError
	case StateError, StateExpired:
		return to == StateLoading
	}
	return false
}

// EngineKind selects one of the independent engine session singletons.
type EngineKind string

const (
	KindGeneration     EngineKind = "generation"
	KindClassification EngineKind = "classification"
	KindOCR            EngineKind = "ocr"
)

// EngineSession is the externally visible session snapshot.
type EngineSession struct {
	Kind     EngineKind     `json:"kind"`
	State    EngineState    `json:"state"`
	Progress *LoadProgress  `json:"progress,omitempty"`
}

// LoadProgress summarizes model download progress across all files.
type LoadProgress struct {
	LoadedBytes int64  `json:"loaded_bytes"`
	TotalBytes  int64  `json:"total_bytes"`
	PhaseText   string `json:"phase_text,omitempty"`
}
