package models

import (
	"fmt"
	"strings"
)

// JobStatus is the client-side view of a remote generation job's state.
type JobStatus string

// Job status constants. Submitted jobs move between Pending and Running
// (either order, servers report both) until they reach a terminal
// Completed or Failed.
const (
	StatusPending   JobStatus = "Pending"
	StatusRunning   JobStatus = "Running"
	StatusCompleted JobStatus = "Completed"
	StatusFailed    JobStatus = "Failed"
)

// ParseJobStatus maps a server-reported status string onto a JobStatus.
// Matching is case-insensitive; "processing" is an alias the server uses
// for Running. Unknown strings are treated as Pending so the poll loop
// keeps going rather than aborting on a new server-side state.
func ParseJobStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending
	case "running", "processing":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Terminal reports whether no further polling should occur for s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Gender values accepted by the generation service.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// DefaultAge is sent with every generation request. The profile does not
// carry an age; the service requires one and this is the value the
// client always used.
const DefaultAge = 25

type (
	// UserProfile holds the identity and body attributes that drive both
	// ratio prediction and cache keying. Treated as immutable for the
	// duration of one generation request.
	UserProfile struct {
		// Strings first
		Email    string `json:"email"`
		Nickname string `json:"nickname"`
		Gender   string `json:"gender"`
		// Integers
		Height int `json:"height"` // cm
		Weight int `json:"weight"` // kg
	}

	// BodyRatios is the output of the fixed-point predictor and part of
	// the generation submission payload. Never persisted; recomputed per
	// request.
	BodyRatios struct {
		Chest float64 `json:"chest_ratio"`
		Waist float64 `json:"waist_ratio"`
		Thigh float64 `json:"thigh_ratio"`
	}

	// GenerationJob tracks one remote generation task between submission
	// and its terminal status. Mutated only by successive poll responses.
	GenerationJob struct {
		// Strings first
		TaskID    string    `json:"task_id"`
		Message   string    `json:"message,omitempty"`
		ResultURL string    `json:"result_url,omitempty"`
		Status    JobStatus `json:"status"`
		// Integers
		Progress int `json:"progress"` // 0-100
	}

	// GenerationRequest is the POST /generate body.
	GenerationRequest struct {
		// Strings first
		Gender   string `json:"gender"`
		Texture  string `json:"texture"`
		Nickname string `json:"nickname"`
		// Floats
		Height     float64 `json:"height"`
		Weight     float64 `json:"weight"`
		ChestRatio float64 `json:"chest_ratio"`
		WaistRatio float64 `json:"waist_ratio"`
		ThighRatio float64 `json:"thigh_ratio"`
		// Integers
		Age int `json:"age"`
	}

	// GenerationResponse is the POST /generate response.
	GenerationResponse struct {
		TaskID string `json:"task_id"`
	}

	// TaskStatusResponse is the GET /task_status/{nickname}/{task_id}
	// response. Progress and Message are optional; URL is only present
	// once the job completes.
	TaskStatusResponse struct {
		Status   string  `json:"status"`
		URL      *string `json:"url"`
		Progress *int    `json:"progress"`
		Message  *string `json:"message"`
	}

	// Config holds the application's configuration settings.
	Config struct {
		// Strings first
		CachePath     string `toml:"CachePath" json:"CachePath"`
		GenerationURL string `toml:"GenerationURL" json:"GenerationURL"`
		InferenceURL  string `toml:"InferenceURL" json:"InferenceURL"`
		Texture       string `toml:"Texture" json:"Texture"`
		LogLevel      string `toml:"LogLevel" json:"LogLevel"`
		LogFormat     string `toml:"LogFormat" json:"LogFormat"`
		// Integers
		APIClientTimeoutSec int `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		PollIntervalMs      int `toml:"PollIntervalMs" json:"PollIntervalMs"`
		// Bools
		LogApiRequests bool `toml:"LogApiRequests" json:"LogApiRequests"`
	}
)

// Validate checks the profile's body attributes against the ranges the
// generation pipeline accepts: height strictly inside (50,250) cm and
// weight strictly inside (20,300) kg, plus a non-empty identity.
func (p UserProfile) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("profile has no identity (email is empty)")
	}
	if p.Height <= 50 || p.Height >= 250 {
		return fmt.Errorf("height %dcm is outside the accepted range (50, 250)", p.Height)
	}
	if p.Weight <= 20 || p.Weight >= 300 {
		return fmt.Errorf("weight %dkg is outside the accepted range (20, 300)", p.Weight)
	}
	return nil
}
