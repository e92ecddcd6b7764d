package services

import (
	"liveorch/internal/core/domain"
)

// QualityService answers ladder questions for the adaptive loop.
type QualityService struct {
	ladder domain.BitrateLadder
}

// NewQualityService uses DefaultBitrateLadder when ladder is empty.
func NewQualityService(ladder domain.BitrateLadder) *QualityService {
	if len(ladder) == 0 {
		ladder = domain.DefaultBitrateLadder
	}
	return &QualityService{ladder: ladder}
}

func (qs *QualityService) Ladder() domain.BitrateLadder {
	return qs.ladder
}

// DetermineBand returns the ladder band for a measured uplink speed.
func (qs *QualityService) DetermineBand(speedKbps int) domain.BitrateBand {
	return qs.ladder.BandFor(speedKbps)
}

// rank returns the band's position in the ladder, or -1 if unknown.
func (qs *QualityService) rank(name string) int {
	for i, band := range qs.ladder {
		if band.Name == name {
			return i
		}
	}
	return -1
}

// lowerBound is the slowest speed that still maps to the band at rank i.
func (qs *QualityService) lowerBound(i int) int {
	if i <= 0 {
		return 0
	}
	return qs.ladder[i-1].BelowKbps
}

// ShouldDowngrade reports whether speedKbps is far enough below the current
// band to leave it. hysteresis is the fraction of the band's lower bound the
// speed has to undershoot by.
func (qs *QualityService) ShouldDowngrade(currentBand string, speedKbps int, hysteresis float64) bool {
	current := qs.rank(currentBand)
	if current < 0 {
		return true
	}
	if qs.rank(qs.DetermineBand(speedKbps).Name) >= current {
		return false
	}
	return float64(speedKbps) < float64(qs.lowerBound(current))*(1.0-hysteresis)
}

// ShouldUpgrade reports whether speedKbps maps to a faster band than the
// current one. Caps are never raised, so upgrading only moves the band.
func (qs *QualityService) ShouldUpgrade(currentBand string, speedKbps int) bool {
	current := qs.rank(currentBand)
	return current >= 0 && qs.rank(qs.DetermineBand(speedKbps).Name) > current
}
