// Package provider defines the provider-agnostic generation request, the
// adapter contract every video provider implements, the error taxonomy
// shared by adapters, and the model-name lookup used to select an adapter.
package provider

import "strings"

// Aspect ratios accepted on GenerationRequest.
const (
	AspectSquare    = "1:1"
	AspectPortrait  = "9:16"
	AspectLandscape = "16:9"
)

// Quality signals accepted on GenerationRequest.
const (
	ModeStd         = "std"
	ModePro         = "pro"
	QualityStandard = "standard"
	QualityHigh     = "high"
)

// Raw video_mode values accepted on GenerationRequest.
const (
	VideoModeValueStandard      = "standard"
	VideoModeValueStartEndFrame = "start_end_frame"
	VideoModeValueMultiShot     = "multi_shot"
)

// PromptSegment is one timed prompt of a multi-shot generation.
type PromptSegment struct {
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
}

// KlingElement is a named reference subject passed through to Kling 3.0.
type KlingElement struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ImageURLs   []string `json:"element_input_urls"`
}

// GenerationRequest is the provider-agnostic request handed in by the
// request-handling layer. It is treated as immutable once submitted.
type GenerationRequest struct {
	ModelName          string          `json:"model_name"`
	Prompt             string          `json:"prompt,omitempty"`
	NegativePrompt     string          `json:"negative_prompt,omitempty"`
	AspectRatio        string          `json:"aspect_ratio,omitempty"`
	DurationSeconds    *float64        `json:"duration_seconds,omitempty"`
	Mode               string          `json:"mode,omitempty"`
	Quality            string          `json:"quality,omitempty"`
	Resolution         string          `json:"resolution,omitempty"`
	VideoMode          string          `json:"video_mode,omitempty"`
	MultiShots         *bool           `json:"multi_shots,omitempty"`
	MultiPrompt        []PromptSegment `json:"multi_prompt,omitempty"`
	CharacterImageURL  string          `json:"character_image_url,omitempty"`
	ReferenceImageURLs []string        `json:"reference_image_urls,omitempty"`
	Sound              *bool           `json:"sound,omitempty"`
	KlingElements      []KlingElement  `json:"kling_elements,omitempty"`
}

// ConditioningImages returns the character image followed by the reference
// images, trimmed, with blanks and duplicates removed.
func (r GenerationRequest) ConditioningImages() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(r.CharacterImageURL)
	for _, u := range r.ReferenceImageURLs {
		add(u)
	}
	return out
}

// VideoMode is the single normalized video mode derived from the two
// overlapping request signals (multi_shots and video_mode).
type VideoMode int

const (
	// VideoModeStandard is plain text- or image-to-video.
	VideoModeStandard VideoMode = iota
	// VideoModeStartEndFrame conditions on explicit first and last frames.
	VideoModeStartEndFrame
	// VideoModeMultiShot renders several timed prompt segments as one video.
	VideoModeMultiShot
)

// String returns the wire name of the mode.
func (m VideoMode) String() string {
	switch m {
	case VideoModeStartEndFrame:
		return VideoModeValueStartEndFrame
	case VideoModeMultiShot:
		return VideoModeValueMultiShot
	default:
		return VideoModeValueStandard
	}
}

// ResolveVideoMode normalizes multi_shots and video_mode. multi_shots=true
// wins; otherwise an explicit start_end_frame or multi_shot is honored;
// anything else is standard. Combining multi_shots=true with
// video_mode=start_end_frame is rejected.
func ResolveVideoMode(r GenerationRequest) (VideoMode, error) {
	raw := strings.ToLower(strings.TrimSpace(r.VideoMode))
	multi := r.MultiShots != nil && *r.MultiShots

	if multi && raw == VideoModeValueStartEndFrame {
		return VideoModeStandard, Invalid("video_mode", "multi_shots cannot be combined with video_mode %q", VideoModeValueStartEndFrame)
	}
	if multi {
		return VideoModeMultiShot, nil
	}
	switch raw {
	case VideoModeValueStartEndFrame:
		return VideoModeStartEndFrame, nil
	case VideoModeValueMultiShot:
		return VideoModeMultiShot, nil
	default:
		return VideoModeStandard, nil
	}
}
