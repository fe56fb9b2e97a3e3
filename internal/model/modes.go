// Package model talks to the external OCR model service and describes the
// inference modes it supports.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// ModeConfig describes a named inference configuration trading speed for quality.
type ModeConfig struct {
	Label        string `json:"label"`
	Description  string `json:"description"`
	BaseSize     int    `json:"base_size"`
	ImageSize    int    `json:"image_size"`
	CropMode     bool   `json:"crop_mode"`
	TestCompress bool   `json:"test_compress"`
	Speed        string `json:"speed"`
	Quality      string `json:"quality"`
}

// DefaultMode is used when the client does not request a mode.
const DefaultMode = "gundam"

var modeConfigs = map[string]ModeConfig{
	"gundam": {
		Label:        "Gundam (dynamic crop)",
		Description:  "Default mode using 640px local crops, suited for complex layouts.",
		BaseSize:     1024,
		ImageSize:    640,
		CropMode:     true,
		TestCompress: true,
		Speed:        "medium",
		Quality:      "higher",
	},
	"base": {
		Label:        "Base 1024",
		Description:  "Fixed 1024px resolution without cropping, balances speed and quality.",
		BaseSize:     1024,
		ImageSize:    1024,
		Speed:        "medium",
		Quality:      "high",
	},
	"small": {
		Label:        "Small 640",
		Description:  "Fixed 640px resolution without cropping, fairly fast.",
		BaseSize:     640,
		ImageSize:    640,
		Speed:        "fast",
		Quality:      "medium",
	},
	"tiny": {
		Label:        "Tiny 512",
		Description:  "512px base size for quick rough passes.",
		BaseSize:     512,
		ImageSize:    512,
		Speed:        "fastest",
		Quality:      "basic",
	},
	"large": {
		Label:        "Large 1280",
		Description:  "1280px base size for maximum detail at the cost of inference time.",
		BaseSize:     1280,
		ImageSize:    1280,
		Speed:        "slowest",
		Quality:      "highest",
	},
}

// Modes returns the full mode catalogue keyed by mode name.
func Modes() map[string]ModeConfig {
	out := make(map[string]ModeConfig, len(modeConfigs))
	for k, v := range modeConfigs {
		out[k] = v
	}
	return out
}

// ModeKeys returns the sorted mode names.
func ModeKeys() []string {
	keys := make([]string, 0, len(modeConfigs))
	for k := range modeConfigs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ModeFor resolves a mode key, falling back to the default for an empty key.
func ModeFor(key string) (ModeConfig, error) {
	if key == "" {
		key = DefaultMode
	}
	cfg, ok := modeConfigs[key]
	if !ok {
		return ModeConfig{}, fmt.Errorf("unsupported mode: %s", key)
	}
	return cfg, nil
}

// EnsurePrompt guarantees the prompt carries the <image> placeholder the model
// expects, substituting the fallback when the prompt is blank.
func EnsurePrompt(prompt, fallback string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = fallback
	}
	if strings.Contains(prompt, "<image>") {
		return prompt
	}
	return "<image>\n" + prompt
}
