package kling

import (
	"math"
	"strconv"
	"strings"

	"github.com/maauso/videotask-api/internal/provider"
)

// Constraint bounds.
const (
	legacyShortSeconds = 5
	legacyLongSeconds  = 10

	defaultDurationSeconds = 5
	minDurationSeconds     = 3
	maxDurationSeconds     = 15
	minSegmentSeconds      = 3
	maxSegmentSeconds      = 12

	maxImages          = 2
	maxMultiShotImages = 1

	maxElements      = 3
	maxElementImages = 4
)

// placeholderPrompt seeds the synthetic segment of a multi-shot request
// that carries neither multi_prompt nor prompt.
const placeholderPrompt = "A continuous cinematic shot"

// Family selects the parameter and billing rules of a Kling model.
type Family int

const (
	// FamilyLegacy is the single-image family billed in flat buckets.
	FamilyLegacy Family = iota
	// FamilyV3 is the 3.0 family billed per second.
	FamilyV3
)

func (f Family) String() string {
	if f == FamilyV3 {
		return "3.0"
	}
	return "legacy"
}

// FamilyOf returns the family serving model.
func FamilyOf(model string) Family {
	if strings.Contains(model, "3.0") {
		return FamilyV3
	}
	return FamilyLegacy
}

// MapAspectRatio maps a request aspect ratio onto Kling's closed set.
func MapAspectRatio(aspect string) string {
	switch strings.ToLower(strings.TrimSpace(aspect)) {
	case provider.AspectPortrait, "portrait":
		return provider.AspectPortrait
	case provider.AspectLandscape, "landscape":
		return provider.AspectLandscape
	default:
		return provider.AspectSquare
	}
}

// ResolveMode returns "std" or "pro": explicit mode, then quality=high,
// then resolution=1080p, else std.
func ResolveMode(r provider.GenerationRequest) string {
	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case provider.ModeStd:
		return provider.ModeStd
	case provider.ModePro:
		return provider.ModePro
	}
	if strings.EqualFold(strings.TrimSpace(r.Quality), provider.QualityHigh) {
		return provider.ModePro
	}
	if strings.EqualFold(strings.TrimSpace(r.Resolution), "1080p") {
		return provider.ModePro
	}
	return provider.ModeStd
}

// plan is a request that passed validation, in the shape the wire payload
// and billing consume.
type plan struct {
	family    Family
	model     string
	videoMode provider.VideoMode
	mode      string
	sound     bool
	// duration is the billed duration in whole seconds.
	duration       int
	prompt         string
	negativePrompt string
	aspect         string
	images         []string
	segments       []segment
	elements       []provider.KlingElement
}

type segment struct {
	prompt   string
	duration int
}

func validate(r provider.GenerationRequest) (plan, error) {
	model := strings.TrimSpace(r.ModelName)
	if model == "" {
		return plan{}, provider.Invalid("model_name", "is required")
	}
	if FamilyOf(model) == FamilyV3 {
		return validateV3(r, model)
	}
	return validateLegacy(r, model)
}

func validateLegacy(r provider.GenerationRequest, model string) (plan, error) {
	vm, err := provider.ResolveVideoMode(r)
	if err != nil {
		return plan{}, err
	}
	if vm != provider.VideoModeStandard {
		return plan{}, provider.Invalid("video_mode", "%s is not supported by legacy model %q", vm, model)
	}
	if len(r.KlingElements) > 0 {
		return plan{}, provider.Invalid("kling_elements", "not supported by legacy model %q", model)
	}

	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return plan{}, provider.Invalid("prompt", "is required")
	}

	p := plan{
		family:         FamilyLegacy,
		model:          model,
		videoMode:      provider.VideoModeStandard,
		duration:       legacyDuration(r),
		prompt:         prompt,
		negativePrompt: strings.TrimSpace(r.NegativePrompt),
		aspect:         MapAspectRatio(r.AspectRatio),
	}
	if images := r.ConditioningImages(); len(images) > 0 {
		p.images = images[:1]
	}
	return p, nil
}

// legacyDuration clamps the requested duration to 5 or 10 seconds.
func legacyDuration(r provider.GenerationRequest) int {
	if r.DurationSeconds == nil || *r.DurationSeconds <= legacyShortSeconds {
		return legacyShortSeconds
	}
	return legacyLongSeconds
}

func validateV3(r provider.GenerationRequest, model string) (plan, error) {
	vm, err := provider.ResolveVideoMode(r)
	if err != nil {
		return plan{}, err
	}

	if vm == provider.VideoModeStartEndFrame && strings.TrimSpace(r.CharacterImageURL) != "" {
		return plan{}, provider.Invalid("character_image_url", "cannot be combined with video_mode %q", provider.VideoModeValueStartEndFrame)
	}

	images := r.ConditioningImages()
	if len(images) > maxImages {
		return plan{}, provider.Invalid("reference_image_urls", "at most %d distinct conditioning images are allowed, got %d", maxImages, len(images))
	}
	if vm == provider.VideoModeMultiShot {
		if len(images) == 0 {
			return plan{}, provider.Invalid("reference_image_urls", "multi-shot requires a start frame image")
		}
		if len(images) > maxMultiShotImages {
			return plan{}, provider.Invalid("reference_image_urls", "multi-shot accepts exactly %d start frame image, got %d", maxMultiShotImages, len(images))
		}
	}

	duration, err := resolveDuration(r)
	if err != nil {
		return plan{}, err
	}

	elements, err := validateElements(r.KlingElements)
	if err != nil {
		return plan{}, err
	}

	p := plan{
		family:         FamilyV3,
		model:          model,
		videoMode:      vm,
		mode:           ResolveMode(r),
		sound:          resolveSound(r, vm),
		duration:       duration,
		negativePrompt: strings.TrimSpace(r.NegativePrompt),
		aspect:         MapAspectRatio(r.AspectRatio),
		images:         images,
		elements:       elements,
	}

	if vm == provider.VideoModeMultiShot {
		segments, total, err := resolveSegments(r, duration)
		if err != nil {
			return plan{}, err
		}
		p.segments = segments
		p.duration = total
		return p, nil
	}

	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return plan{}, provider.Invalid("prompt", "is required")
	}
	p.prompt = prompt
	return p, nil
}

func resolveSound(r provider.GenerationRequest, vm provider.VideoMode) bool {
	if vm == provider.VideoModeMultiShot {
		return true
	}
	return r.Sound != nil && *r.Sound
}

// resolveDuration returns the single requested duration of a 3.0 request.
func resolveDuration(r provider.GenerationRequest) (int, error) {
	if r.DurationSeconds == nil {
		return defaultDurationSeconds, nil
	}
	return wholeSecondsIn("duration_seconds", *r.DurationSeconds, minDurationSeconds, maxDurationSeconds)
}

// resolveSegments returns the multi-shot segments and their total duration.
// Without an explicit list a single segment is built from prompt and duration.
func resolveSegments(r provider.GenerationRequest, duration int) ([]segment, int, error) {
	if len(r.MultiPrompt) == 0 {
		prompt := strings.TrimSpace(r.Prompt)
		if prompt == "" {
			prompt = placeholderPrompt
		}
		if _, err := wholeSecondsIn("multi_prompt[0].duration", float64(duration), minSegmentSeconds, maxSegmentSeconds); err != nil {
			return nil, 0, err
		}
		return []segment{{prompt: prompt, duration: duration}}, duration, nil
	}

	segments := make([]segment, 0, len(r.MultiPrompt))
	var sum float64
	for i, s := range r.MultiPrompt {
		if strings.TrimSpace(s.Prompt) == "" {
			return nil, 0, provider.Invalid(segmentField(i, "prompt"), "is required")
		}
		d, err := wholeSecondsIn(segmentField(i, "duration"), s.Duration, minSegmentSeconds, maxSegmentSeconds)
		if err != nil {
			return nil, 0, err
		}
		sum += s.Duration
		segments = append(segments, segment{prompt: s.Prompt, duration: d})
	}

	total, err := totalSeconds(sum)
	if err != nil {
		return nil, 0, err
	}
	return segments, total, nil
}

// segmentDurations re-derives the billed multi-shot duration without the
// prompt and image checks of validation.
func segmentDurations(r provider.GenerationRequest, duration int) (int, error) {
	if len(r.MultiPrompt) == 0 {
		_, err := wholeSecondsIn("multi_prompt[0].duration", float64(duration), minSegmentSeconds, maxSegmentSeconds)
		return duration, err
	}
	var sum float64
	for i, s := range r.MultiPrompt {
		if _, err := wholeSecondsIn(segmentField(i, "duration"), s.Duration, minSegmentSeconds, maxSegmentSeconds); err != nil {
			return 0, err
		}
		sum += s.Duration
	}
	return totalSeconds(sum)
}

func totalSeconds(sum float64) (int, error) {
	if !isWhole(sum) {
		return 0, provider.Invalid("multi_prompt", "total duration must be a whole number of seconds, got %v", sum)
	}
	if sum < minDurationSeconds || sum > maxDurationSeconds {
		return 0, provider.Invalid("multi_prompt", "total duration must be between %d and %d seconds, got %v", minDurationSeconds, maxDurationSeconds, sum)
	}
	return int(sum), nil
}

func validateElements(elements []provider.KlingElement) ([]provider.KlingElement, error) {
	if len(elements) > maxElements {
		return nil, provider.Invalid("kling_elements", "at most %d elements are allowed, got %d", maxElements, len(elements))
	}
	out := make([]provider.KlingElement, 0, len(elements))
	for i, e := range elements {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, provider.Invalid(elementField(i, "name"), "is required")
		}
		var urls []string
		for _, u := range e.ImageURLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 || len(urls) > maxElementImages {
			return nil, provider.Invalid(elementField(i, "element_input_urls"), "must contain between 1 and %d image URLs, got %d", maxElementImages, len(urls))
		}
		out = append(out, provider.KlingElement{Name: name, Description: strings.TrimSpace(e.Description), ImageURLs: urls})
	}
	return out, nil
}

// wholeSecondsIn checks that v is an integer within [lo, hi].
func wholeSecondsIn(field string, v float64, lo, hi int) (int, error) {
	if !isWhole(v) {
		return 0, provider.Invalid(field, "must be a whole number of seconds, got %v", v)
	}
	if v < float64(lo) || v > float64(hi) {
		return 0, provider.Invalid(field, "must be between %d and %d seconds, got %v", lo, hi, v)
	}
	return int(v), nil
}

func isWhole(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}

func segmentField(i int, name string) string {
	return "multi_prompt[" + strconv.Itoa(i) + "]." + name
}

func elementField(i int, name string) string {
	return "kling_elements[" + strconv.Itoa(i) + "]." + name
}
