package services

import (
	"liveorch/internal/core/domain"
)

// SelectResolutionTier maps capture dimensions to the VR target resolution.
func SelectResolutionTier(width, height int) int {
	switch {
	case width >= 3840 && height >= 2160:
		return domain.ResolutionTierHigh
	case width >= 1920 && height >= 1080:
		return domain.ResolutionTierStandard
	default:
		return domain.ResolutionTierLow
	}
}

// SelectGeometryMode picks the capture shape from the aspect ratio. Ratios
// are compared in integer space so 2:1 exactly stays stereoscopic.
func SelectGeometryMode(width, height int) domain.GeometryMode {
	switch {
	case width > 2*height:
		return domain.GeometryPanoramic
	case 2*width > 3*height:
		return domain.GeometryStereoscopic
	default:
		return domain.GeometryMonoscopic
	}
}

// ResolveGeometry resolves mode and tier independently and keeps the
// requested projection.
func ResolveGeometry(width, height int, projection domain.Projection) domain.Geometry {
	return domain.Geometry{
		Mode:       SelectGeometryMode(width, height),
		Projection: projection,
		Resolution: SelectResolutionTier(width, height),
	}
}
