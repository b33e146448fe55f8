// Package server provides the HTTP surface of the video task API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/videotask-api/internal/provider"
	"github.com/maauso/videotask-api/internal/task"
)

// PromptSegment is one timed prompt of a multi-shot request.
type PromptSegment struct {
	Prompt   string  `json:"prompt" validate:"required"`
	Duration float64 `json:"duration" validate:"gt=0"`
}

// KlingElement is a named reference subject.
type KlingElement struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	ImageURLs   []string `json:"element_input_urls" validate:"required,min=1,dive,url"`
}

// CreateTaskRequest is the HTTP request body for creating or quoting a
// generation task.
type CreateTaskRequest struct {
	// ModelName selects the provider adapter, e.g. "kling-3.0".
	ModelName      string `json:"model_name" validate:"required"`
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// AspectRatio accepts ratios or orientation names.
	AspectRatio     string   `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 9:16 16:9 square portrait landscape"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty" validate:"omitempty,gt=0"`
	Mode            string   `json:"mode,omitempty" validate:"omitempty,oneof=std pro"`
	Quality         string   `json:"quality,omitempty" validate:"omitempty,oneof=standard high"`
	Resolution      string   `json:"resolution,omitempty"`
	VideoMode       string   `json:"video_mode,omitempty" validate:"omitempty,oneof=standard start_end_frame multi_shot"`
	MultiShots      *bool    `json:"multi_shots,omitempty"`
	// MultiPrompt holds the timed segments of a multi-shot request.
	MultiPrompt        []PromptSegment `json:"multi_prompt,omitempty" validate:"omitempty,dive"`
	CharacterImageURL  string          `json:"character_image_url,omitempty" validate:"omitempty,url"`
	ReferenceImageURLs []string        `json:"reference_image_urls,omitempty" validate:"omitempty,dive,url"`
	Sound              *bool           `json:"sound,omitempty"`
	KlingElements      []KlingElement  `json:"kling_elements,omitempty" validate:"omitempty,dive"`
}

// toGeneration converts the DTO to the provider-agnostic request.
func (r CreateTaskRequest) toGeneration() provider.GenerationRequest {
	g := provider.GenerationRequest{
		ModelName:          r.ModelName,
		Prompt:             r.Prompt,
		NegativePrompt:     r.NegativePrompt,
		AspectRatio:        r.AspectRatio,
		DurationSeconds:    r.DurationSeconds,
		Mode:               r.Mode,
		Quality:            r.Quality,
		Resolution:         r.Resolution,
		VideoMode:          r.VideoMode,
		MultiShots:         r.MultiShots,
		CharacterImageURL:  r.CharacterImageURL,
		ReferenceImageURLs: r.ReferenceImageURLs,
		Sound:              r.Sound,
	}
	for _, s := range r.MultiPrompt {
		g.MultiPrompt = append(g.MultiPrompt, provider.PromptSegment{Prompt: s.Prompt, Duration: s.Duration})
	}
	for _, e := range r.KlingElements {
		g.KlingElements = append(g.KlingElements, provider.KlingElement{
			Name:        e.Name,
			Description: e.Description,
			ImageURLs:   e.ImageURLs,
		})
	}
	return g
}

// QuoteResponse is the HTTP response for a price quote.
type QuoteResponse struct {
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	Credits   int    `json:"credits"`
}

// TaskResponse is the HTTP response for task details.
type TaskResponse struct {
	// ID is the provider-assigned task identifier.
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	// State is one of pending, processing, succeeded, failed.
	State        string     `json:"state"`
	Credits      int        `json:"credits"`
	ResultURLs   []string   `json:"result_urls,omitempty"`
	ArchivedURLs []string   `json:"archived_urls,omitempty"`
	FailCode     string     `json:"fail_code,omitempty"`
	FailMessage  string     `json:"fail_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// newTaskResponse builds a TaskResponse from a task snapshot.
func newTaskResponse(t *task.Task) TaskResponse {
	c := t.Clone()
	resp := TaskResponse{
		ID:           c.ID,
		Provider:     c.Provider,
		ModelName:    c.Model,
		State:        string(c.State),
		Credits:      c.Credits,
		ResultURLs:   c.ResultURLs,
		ArchivedURLs: c.ArchivedURLs,
		FailCode:     c.FailCode,
		FailMessage:  c.FailMessage,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if !c.CompletedAt.IsZero() {
		completed := c.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// CallbackResponse acknowledges a provider callback.
type CallbackResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Field names the offending request field for validation errors.
	Field string `json:"field,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Providers lists the registered provider names.
	Providers []string `json:"providers,omitempty"`
}
