package domain

import (
	"fmt"
	"strings"
)

// ProtocolVariant identifies one transmission strategy.
type ProtocolVariant string

const (
	VariantOKB ProtocolVariant = "OKB"
	VariantVR  ProtocolVariant = "VR"
	VariantATF ProtocolVariant = "ATF"
	VariantATS ProtocolVariant = "ATS"
)

// BaselineVariant is selected when nothing else has been chosen.
const BaselineVariant = VariantOKB

func AllVariants() []ProtocolVariant {
	return []ProtocolVariant{VariantOKB, VariantVR, VariantATF, VariantATS}
}

func ParseProtocolVariant(s string) (ProtocolVariant, error) {
	v := ProtocolVariant(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllVariants() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

func (v ProtocolVariant) DisplayName() string {
	switch v {
	case VariantOKB:
		return "baseline flat video"
	case VariantVR:
		return "VR 360"
	case VariantATF:
		return "fragmented MP4"
	case VariantATS:
		return "MPEG-TS"
	default:
		return string(v)
	}
}

func (v ProtocolVariant) GeometryAware() bool {
	return v == VariantVR
}
