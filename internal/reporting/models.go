package reporting

import "ai-call-center/internal/calls"

// TimestampLayout is the dashboard's wall-clock rendering of record times.
const TimestampLayout = "2006-01-02 15:04:05"

// QueueRow is one job as shown in the queue snapshot.
type QueueRow struct {
	ID         string          `json:"id"`
	Status     calls.JobStatus `json:"status"`
	Timestamp  string          `json:"timestamp"`
	ScriptText string          `json:"script_text"`
	Country    string          `json:"country"`
}

// LogRow is one call log as shown in the log snapshot.
type LogRow struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Response  string `json:"ai_response"`
	Timestamp string `json:"timestamp"`
	AudioPath string `json:"audio_path"`
	Country   string `json:"country"`
}

// StatusCounts holds the number of jobs per status plus the total.
type StatusCounts struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

type Dashboard struct {
	Queue  []QueueRow   `json:"queue"`
	Logs   []LogRow     `json:"logs"`
	Counts StatusCounts `json:"counts"`
}
