package kling

import (
	"strconv"
	"strings"

	"github.com/maauso/videotask-api/internal/kie"
)

// Wire model suffixes of the legacy family.
const (
	textToVideoSuffix  = "/text-to-video"
	imageToVideoSuffix = "/image-to-video"
)

// legacyInput is the createTask input of a legacy model.
type legacyInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	Duration       string `json:"duration"`
	AspectRatio    string `json:"aspect_ratio"`
}

// v3Input is the createTask input of a 3.0 model. Prompt is empty, and so
// omitted, in multi-shot mode.
type v3Input struct {
	Prompt         string        `json:"prompt,omitempty"`
	NegativePrompt string        `json:"negative_prompt,omitempty"`
	ImageURLs      []string      `json:"image_urls,omitempty"`
	Duration       string        `json:"duration"`
	AspectRatio    string        `json:"aspect_ratio"`
	Mode           string        `json:"mode"`
	Sound          bool          `json:"sound"`
	MultiShots     bool          `json:"multi_shots,omitempty"`
	MultiPrompt    []wireSegment `json:"multi_prompt,omitempty"`
	KlingElements  []wireElement `json:"kling_elements,omitempty"`
}

type wireSegment struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
}

type wireElement struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	ElementInputURLs []string `json:"element_input_urls"`
}

func (p plan) createRequest(callbackURL string) kie.CreateTaskRequest {
	if p.family == FamilyLegacy {
		return p.legacyRequest(callbackURL)
	}
	return p.v3Request(callbackURL)
}

func (p plan) legacyRequest(callbackURL string) kie.CreateTaskRequest {
	in := legacyInput{
		Prompt:         p.prompt,
		NegativePrompt: p.negativePrompt,
		Duration:       strconv.Itoa(p.duration),
		AspectRatio:    p.aspect,
	}
	suffix := textToVideoSuffix
	if len(p.images) > 0 {
		in.ImageURL = p.images[0]
		suffix = imageToVideoSuffix
	}
	return kie.CreateTaskRequest{
		Model:       legacyBaseModel(p.model) + suffix,
		CallbackURL: callbackURL,
		Input:       in,
	}
}

// legacyBaseModel strips a variant suffix the caller may already have supplied.
func legacyBaseModel(model string) string {
	model = strings.TrimSuffix(model, textToVideoSuffix)
	return strings.TrimSuffix(model, imageToVideoSuffix)
}

func (p plan) v3Request(callbackURL string) kie.CreateTaskRequest {
	in := v3Input{
		Prompt:         p.prompt,
		NegativePrompt: p.negativePrompt,
		ImageURLs:      p.images,
		Duration:       strconv.Itoa(p.duration),
		AspectRatio:    p.aspect,
		Mode:           p.mode,
		Sound:          p.sound,
	}
	if len(p.segments) > 0 {
		in.MultiShots = true
		in.MultiPrompt = make([]wireSegment, len(p.segments))
		for i, s := range p.segments {
			in.MultiPrompt[i] = wireSegment{Prompt: s.prompt, Duration: s.duration}
		}
	}
	for _, e := range p.elements {
		in.KlingElements = append(in.KlingElements, wireElement{
			Name:             e.Name,
			Description:      e.Description,
			ElementInputURLs: e.ImageURLs,
		})
	}
	return kie.CreateTaskRequest{
		Model:       p.model,
		CallbackURL: callbackURL,
		Input:       in,
	}
}
