// Package api holds the types shared between the Atlas Explorer client
// packages and the wire format spoken by the Atlas Explorer cloud APIs.
package api

import (
	"fmt"
	"net/url"
	"time"
)

// JobState is the local view of a submitted experiment's lifecycle.
type JobState string

const (
	JobStatePending   JobState = "Pending"
	JobStateUploading JobState = "Uploading"
	JobStateQueued    JobState = "Queued"
	JobStateRunning   JobState = "Running"
	JobStateSucceeded JobState = "Succeeded"
	JobStateFailed    JobState = "Failed"
	JobStateExpired   JobState = "Expired"
)

// Terminal reports whether no further state transitions are possible.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateExpired:
		return true
	}
	return false
}

// Remote status codes reported by the experiment status endpoint. Older
// gateways report these numeric codes only; newer ones also report a state
// string.
const (
	StatusCodeInProgress = 100
	StatusCodeComplete   = 200
	StatusCodeFailed     = 500
)

// StatusResponse is the JSON document served from the experiment's signed
// status URL.
type StatusResponse struct {
	Code     int             `json:"code"`
	State    string          `json:"state,omitempty"`
	Message  string          `json:"message,omitempty"`
	Metadata *StatusMetadata `json:"metadata,omitempty"`
}

// StatusMetadata carries auxiliary data reported alongside a status, such as
// the report files produced by a completed experiment.
type StatusMetadata struct {
	Reports []ReportLink `json:"reports,omitempty"`
}

// ReportLink points at a single generated report file.
type ReportLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// JobState maps the remote vocabulary onto the local state enum. An explicit
// state string wins over the numeric code, so that newer gateways can report
// Queued before execution starts.
func (r *StatusResponse) JobState() (JobState, error) {
	switch r.State {
	case "queued":
		return JobStateQueued, nil
	case "running":
		return JobStateRunning, nil
	case "succeeded":
		return JobStateSucceeded, nil
	case "failed":
		return JobStateFailed, nil
	case "":
	default:
		return "", fmt.Errorf("unknown remote state %q", r.State)
	}

	switch r.Code {
	case StatusCodeInProgress:
		return JobStateRunning, nil
	case StatusCodeComplete:
		return JobStateSucceeded, nil
	case StatusCodeFailed:
		return JobStateFailed, nil
	}
	return "", fmt.Errorf("unknown remote status code %d", r.Code)
}

// SignedURL is a short-lived presigned URL issued by the gateway. The URL
// embeds credentials in its query string and must never be logged in full.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// Expired reports whether the URL's expiry has passed at the given time. URLs
// without an expiry never expire locally; the service still enforces its own.
func (u SignedURL) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}

// Redacted returns a loggable form of the URL with the query string (which
// carries the signature) stripped.
func (u SignedURL) Redacted() string {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return "<unparseable url>"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// ExperimentURLs is the set of signed URLs issued for one experiment.
type ExperimentURLs struct {
	// Config receives the experiment configuration. Uploading it creates the
	// job record and triggers processing.
	Config SignedURL
	// Workload receives the encrypted workload package.
	Workload SignedURL
	// Status serves StatusResponse documents.
	Status SignedURL
	// Result serves the encrypted result package once the experiment
	// succeeds.
	Result SignedURL
}

// CreateExperimentRequest describes a new experiment to the gateway.
type CreateExperimentRequest struct {
	// ExperimentID is the client-generated experiment identifier.
	ExperimentID string
	// Workload is the base name of the workload file.
	Workload string
	// Core is the target core model, for example "I8500_(1_thread)".
	Core string
	// ResultPublicKeyPEM is the PEM-encoded RSA public key the service must
	// encrypt the result package to.
	ResultPublicKeyPEM string
}

// Channel is one entry of the channel list served by the global API.
type Channel struct {
	Name    string   `json:"name"`
	Regions []string `json:"regions"`
}

// ResultPackage is the decrypted output of a successful experiment.
type ResultPackage struct {
	// ExperimentID identifies the submission that produced this result.
	ExperimentID string
	// Data is the decrypted result archive.
	Data []byte
	// Size is len(Data) recorded at decryption time.
	Size int64
	// SHA256 is the hex-encoded checksum of Data.
	SHA256 string
}
