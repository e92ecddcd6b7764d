package domain

import (
	"fmt"
	"strings"
)

type QualityPreset int

const (
	PresetUltraLow QualityPreset = iota
	PresetLow
	PresetMedium
	PresetHigh
	PresetUltraHigh
	PresetCustom
)

var presetNames = map[QualityPreset]string{
	PresetUltraLow:  "ultra_low",
	PresetLow:       "low",
	PresetMedium:    "medium",
	PresetHigh:      "high",
	PresetUltraHigh: "ultra_high",
	PresetCustom:    "custom",
}

var presetDisplayNames = map[QualityPreset]string{
	PresetUltraLow:  "Ultra low (480p)",
	PresetLow:       "Low (480p)",
	PresetMedium:    "Medium (720p)",
	PresetHigh:      "High (1080p)",
	PresetUltraHigh: "Ultra high (1440p)",
	PresetCustom:    "Custom",
}

func (p QualityPreset) String() string {
	if name, ok := presetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("preset(%d)", int(p))
}

func (p QualityPreset) DisplayName() string {
	return presetDisplayNames[p]
}

func ParseQualityPreset(s string) (QualityPreset, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for preset, name := range presetNames {
		if name == normalized {
			return preset, nil
		}
	}
	return PresetCustom, fmt.Errorf("unknown quality preset %q", s)
}

type presetDimensions struct {
	width, height, bitrate, fps int
}

// PresetCustom has no entry and leaves the configuration untouched.
var presetTable = map[QualityPreset]presetDimensions{
	PresetUltraLow:  {640, 480, 500, 15},
	PresetLow:       {854, 480, 800, 24},
	PresetMedium:    {1280, 720, 1500, 30},
	PresetHigh:      {1920, 1080, 2500, 30},
	PresetUltraHigh: {2560, 1440, 4000, 30},
}

type presetTuning struct {
	encoderPreset        string
	profile              string
	level                int
	audioBitrate         int
	hardwareAcceleration bool
}

var tuningTable = map[QualityPreset]presetTuning{
	PresetUltraLow:  {"ultrafast", "baseline", 30, 64, false},
	PresetLow:       {"ultrafast", "baseline", 30, 64, false},
	PresetMedium:    {"veryfast", "main", 31, 96, true},
	PresetHigh:      {"fast", "high", 41, 128, true},
	PresetUltraHigh: {"fast", "high", 41, 128, true},
}
