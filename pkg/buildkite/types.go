package buildkite

// Build is one pipeline execution as returned by the builds listing endpoint.
// With include_retried_jobs the jobs array carries full job metadata, so no
// per-job lookup is needed.
type Build struct {
	Number    int    `json:"number"`
	Branch    string `json:"branch"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	WebURL    string `json:"web_url"`
	Jobs      []Job  `json:"jobs"`
}

// Job is one unit of work inside a build. Script jobs carry a display label;
// some job types only have a name.
type Job struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// DisplayLabel returns the job's label, falling back to its name when the
// label is absent.
func (j Job) DisplayLabel() string {
	if j.Label != "" {
		return j.Label
	}
	return j.Name
}
