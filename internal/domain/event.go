package domain

// JobEventType tags an entry in the job event stream.
type JobEventType string

const (
	EventJobStarted       JobEventType = "job_started"
	EventUserStarted      JobEventType = "user_started"
	EventMediaFound       JobEventType = "media_found"
	EventDownloadProgress JobEventType = "download_progress"
	EventUserFinished     JobEventType = "user_finished"
	EventJobFinished      JobEventType = "job_finished"
	EventWarning          JobEventType = "warning"
	EventError            JobEventType = "error"
)

// Progress carries aggregate download counters on progress-bearing events.
type Progress struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// JobEvent is one entry in the ordered, finite event stream a batch job
// produces. The stream is single-pass and terminates with a JobResult.
type JobEvent struct {
	Type      JobEventType `json:"type"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
	Username  string       `json:"username,omitempty"`
	Progress  *Progress    `json:"progress,omitempty"`
}

// FailureScope says whether a failure applies to a whole user or to a
// single media item.
type FailureScope string

const (
	FailureScopeUser  FailureScope = "user"
	FailureScopeMedia FailureScope = "media"
)

// FailureMedia identifies the media item a media-scope failure concerns.
type FailureMedia struct {
	TweetID    string `json:"tweet_id"`
	MediaID    string `json:"media_id"`
	URL        string `json:"url"`
	TargetPath string `json:"target_path,omitempty"`
}

// FailureDetail records one failure observed during a job. A single
// user or media item may contribute several details across retries.
type FailureDetail struct {
	Scope     FailureScope  `json:"scope"`
	Username  string        `json:"username"`
	Message   string        `json:"message"`
	Code      string        `json:"code,omitempty"`
	Media     *FailureMedia `json:"media,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// JobResult aggregates a finished batch job.
type JobResult struct {
	TotalUsers     int             `json:"total_users"`
	SucceededUsers int             `json:"succeeded_users"`
	FailedUsers    int             `json:"failed_users"`
	TotalMedia     int             `json:"total_media"`
	Downloaded     int             `json:"downloaded"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	FailureDetails []FailureDetail `json:"failure_details"`
}

// HasFinalFailures reports whether the job finished with at least one
// user- or media-level failure. The CLI maps this to the partial-success
// exit code.
func (r *JobResult) HasFinalFailures() bool {
	return r.FailedUsers > 0 || r.Failed > 0
}

// ProgressSnapshot returns the result counters as a Progress value.
func (r *JobResult) ProgressSnapshot() Progress {
	return Progress{
		Total:      r.TotalMedia,
		Downloaded: r.Downloaded,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
	}
}
