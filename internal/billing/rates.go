// Package billing provides the externally configured credit rate table.
// Lookups never fail: a miss is reported to the caller, which applies its
// own fallback rate, and is logged as a sign of configuration drift.
package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRate is returned when a rate file contains a negative or zero rate.
var ErrInvalidRate = errors.New("billing: invalid rate")

// AudioRates holds per-second credits with and without generated audio.
type AudioRates struct {
	Silent int `yaml:"silent" json:"silent"`
	Audio  int `yaml:"audio" json:"audio"`
}

// Bucket is a flat price for durations up to MaxSeconds.
type Bucket struct {
	MaxSeconds int `yaml:"max_seconds" json:"max_seconds"`
	Credits    int `yaml:"credits" json:"credits"`
}

// ModelRates is the rate configuration of one model.
type ModelRates struct {
	// PerSecond is keyed by quality mode ("std", "pro").
	PerSecond map[string]AudioRates `yaml:"per_second,omitempty" json:"per_second,omitempty"`
	Buckets   []Bucket              `yaml:"buckets,omitempty" json:"buckets,omitempty"`
}

// File is the on-disk layout of a rate file.
type File struct {
	Models map[string]ModelRates `yaml:"models"`
}

// RateTable is a read-only lookup of credit rates keyed by model name.
// A nil *RateTable is valid and misses every lookup.
type RateTable struct {
	models map[string]ModelRates
	logger *slog.Logger
}

// New builds a table from in-memory rates.
func New(models map[string]ModelRates, logger *slog.Logger) *RateTable {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make(map[string]ModelRates, len(models))
	for name, rates := range models {
		buckets := append([]Bucket(nil), rates.Buckets...)
		sort.Slice(buckets, func(i, j int) bool { return buckets[i].MaxSeconds < buckets[j].MaxSeconds })
		perSecond := make(map[string]AudioRates, len(rates.PerSecond))
		for mode, r := range rates.PerSecond {
			perSecond[strings.ToLower(mode)] = r
		}
		normalized[strings.ToLower(strings.TrimSpace(name))] = ModelRates{PerSecond: perSecond, Buckets: buckets}
	}
	return &RateTable{models: normalized, logger: logger}
}

// Parse decodes a YAML rate file.
func Parse(data []byte, logger *slog.Logger) (*RateTable, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("billing: parse rate file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return New(f.Models, logger), nil
}

// Load reads a YAML rate file from path. An empty path yields an empty table.
func Load(path string, logger *slog.Logger) (*RateTable, error) {
	if path == "" {
		return New(nil, logger), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("billing: read rate file: %w", err)
	}
	return Parse(data, logger)
}

func (f File) validate() error {
	for name, rates := range f.Models {
		for mode, r := range rates.PerSecond {
			if r.Silent <= 0 || r.Audio <= 0 {
				return fmt.Errorf("%w: %s/%s per-second rates must be positive", ErrInvalidRate, name, mode)
			}
		}
		for _, b := range rates.Buckets {
			if b.MaxSeconds <= 0 || b.Credits <= 0 {
				return fmt.Errorf("%w: %s bucket must have positive max_seconds and credits", ErrInvalidRate, name)
			}
		}
	}
	return nil
}

// Len returns the number of configured models.
func (t *RateTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.models)
}

// PerSecond returns the per-second rate for (model, mode, sound).
func (t *RateTable) PerSecond(model, mode string, sound bool) (int, bool) {
	rates, ok := t.lookup(model)
	if ok {
		if cell, found := rates.PerSecond[strings.ToLower(mode)]; found {
			if sound {
				return cell.Audio, true
			}
			return cell.Silent, true
		}
	}
	t.logMiss("per_second", model,
		slog.String("mode", mode),
		slog.Bool("sound", sound),
	)
	return 0, false
}

// Bucket returns the flat price of the smallest bucket covering seconds.
func (t *RateTable) Bucket(model string, seconds int) (int, bool) {
	rates, ok := t.lookup(model)
	if ok {
		for _, b := range rates.Buckets {
			if seconds <= b.MaxSeconds {
				return b.Credits, true
			}
		}
	}
	t.logMiss("bucket", model, slog.Int("seconds", seconds))
	return 0, false
}

func (t *RateTable) lookup(model string) (ModelRates, bool) {
	if t == nil {
		return ModelRates{}, false
	}
	rates, ok := t.models[strings.ToLower(strings.TrimSpace(model))]
	return rates, ok
}

func (t *RateTable) logMiss(kind, model string, attrs ...slog.Attr) {
	logger := slog.Default()
	if t != nil && t.logger != nil {
		logger = t.logger
	}
	args := []any{slog.String("kind", kind), slog.String("model", model)}
	for _, a := range attrs {
		args = append(args, a)
	}
	logger.Warn("billing rate not configured, using fallback", args...)
}
