// Package progress records crawl progress events as newline-delimited JSON
// and follows that log from other processes.
package progress

import "time"

// FileName is the name of the progress log inside the crawl output dir.
const FileName = "progress.jsonl"

// Type identifies a progress event.
type Type string

// Event types.
const (
	Waiting         Type = "waiting"
	Heartbeat       Type = "heartbeat"
	CrawlStarted    Type = "crawl_started"
	ProgressUpdate  Type = "progress_update"
	IterationUpdate Type = "iteration_update"
	CrawlStopped    Type = "crawl_stopped"
	CrawlResumed    Type = "crawl_resumed"
	CrawlCompleted  Type = "crawl_completed"
	Error           Type = "error"
)

// Event is a single progress notification.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
