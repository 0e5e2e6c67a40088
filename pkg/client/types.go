package client

// Job states as rendered on the wire.
const (
	StateNone    = "none"
	StateReady   = "ready"
	StateStarted = "started"
	StateDone    = "done"
	StateError   = "error"
)

// RunRequest is the body of a launch request. QCConfig is required for the
// qc variant; SisyphusConfig optionally replaces the runfolder's sisyphus.yml.
type RunRequest struct {
	Target         string  `json:"target"`
	QCConfig       *string `json:"qc_config,omitempty"`
	SisyphusConfig *string `json:"sisyphus_config,omitempty"`
}

// RunResponse is returned when a job was accepted.
type RunResponse struct {
	PID             int    `json:"pid"`
	State           string `json:"state"`
	Host            string `json:"host"`
	TargetPath      string `json:"target_path"`
	Link            string `json:"link"`
	Msg             string `json:"msg"`
	ServiceVersion  string `json:"service_version,omitempty"`
	SisyphusVersion string `json:"sisyphus_version,omitempty"`
}

// Status is the state of a single job.
type Status struct {
	PID        int    `json:"pid"`
	State      string `json:"state"`
	Host       string `json:"host"`
	Msg        string `json:"msg"`
	TargetPath string `json:"target_path,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool { return s.State == StateDone || s.State == StateError }

// StatusItem is one entry of a status listing.
type StatusItem struct {
	PID        int    `json:"pid"`
	State      string `json:"state"`
	Host       string `json:"host"`
	TargetPath string `json:"target_path"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
