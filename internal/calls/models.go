package calls

import "time"

// Protocol selects the telephony control channel used to reach a Credential.
type Protocol string

const (
	ProtocolAMI Protocol = "ami"
	ProtocolARI Protocol = "ari"
	ProtocolESL Protocol = "esl"
)

// DefaultPort returns the well-known control port for the protocol.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolARI:
		return 8088
	case ProtocolESL:
		return 8021
	default:
		return 5038
	}
}

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolAMI, ProtocolARI, ProtocolESL:
		return true
	default:
		return false
	}
}

// Credential is one telephony control endpoint.
// Secret must never be rendered back to API clients.
type Credential struct {
	ID       string   `json:"id" db:"id"`
	Host     string   `json:"host" db:"host"`
	Port     int      `json:"port" db:"port"`
	Username string   `json:"username" db:"username"`
	Secret   string   `json:"-" db:"secret"`
	Protocol Protocol `json:"protocol" db:"protocol"`

	// SIPEndpoint overrides the configured source channel when set.
	SIPEndpoint string `json:"sip_endpoint,omitempty" db:"sip_endpoint"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const (
	DefaultExtension = "1000"
	DefaultCallerID  = "AI Call Center"
)

// Script is the text spoken on a call plus where to send it.
type Script struct {
	ID           string `json:"id" db:"id"`
	Locale       string `json:"country" db:"locale"`
	Text         string `json:"script_text" db:"text"`
	Extension    string `json:"exten" db:"extension"`
	CallerID     string `json:"caller_id" db:"caller_id"`
	CredentialID string `json:"credential_id" db:"credential_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Job is one attempt to place a Script's call.
type Job struct {
	ID       string    `json:"id" db:"id"`
	ScriptID string    `json:"script_id" db:"script_id"`
	Status   JobStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CallLog is the immutable outcome record of a terminal Job.
// Exactly one exists per job that reached Completed or Failed.
type CallLog struct {
	ID        string `json:"id" db:"id"`
	JobID     string `json:"job_id" db:"job_id"`
	ScriptID  string `json:"script_id" db:"script_id"`
	Response  string `json:"ai_response" db:"response"`
	AudioPath string `json:"audio_path" db:"audio_path"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// QueueEntry is a job joined with the script fields shown on the dashboard.
type QueueEntry struct {
	Job
	Locale     string
	ScriptText string
}

// LogEntry is a call log joined with its script locale.
type LogEntry struct {
	CallLog
	Locale string
}
