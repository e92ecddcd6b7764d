package domain

import "fmt"

type GeometryMode int

const (
	GeometryMonoscopic GeometryMode = iota
	GeometryStereoscopic
	GeometryPanoramic
)

func (m GeometryMode) String() string {
	switch m {
	case GeometryMonoscopic:
		return "monoscopic"
	case GeometryStereoscopic:
		return "stereoscopic"
	case GeometryPanoramic:
		return "panoramic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Label is the short form used in status narration.
func (m GeometryMode) Label() string {
	switch m {
	case GeometryMonoscopic:
		return "Mono"
	case GeometryStereoscopic:
		return "Stereo L/R"
	case GeometryPanoramic:
		return "Panorama 360"
	default:
		return "Unknown"
	}
}

func (m GeometryMode) Valid() bool {
	return m >= GeometryMonoscopic && m <= GeometryPanoramic
}

// DualSource reports whether the mode captures from two cameras.
func (m GeometryMode) DualSource() bool {
	return m == GeometryStereoscopic || m == GeometryPanoramic
}

type Projection int

const (
	ProjectionEquirectangular Projection = iota
	ProjectionCubemap
	ProjectionEquiangular
)

// FilterName is the projection identifier understood by the engine's
// projection stage.
func (p Projection) FilterName() string {
	switch p {
	case ProjectionCubemap:
		return "c3x2"
	case ProjectionEquiangular:
		return "eac"
	default:
		return "equirect"
	}
}

func (p Projection) String() string {
	switch p {
	case ProjectionEquirectangular:
		return "equirectangular"
	case ProjectionCubemap:
		return "cubemap"
	case ProjectionEquiangular:
		return "equiangular"
	default:
		return fmt.Sprintf("projection(%d)", int(p))
	}
}

func (p Projection) Valid() bool {
	return p >= ProjectionEquirectangular && p <= ProjectionEquiangular
}

// Target resolutions per tier.
const (
	ResolutionTierHigh     = 8192
	ResolutionTierStandard = 4096
	ResolutionTierLow      = 2048

	MinVRResolution = 1024
	MaxVRResolution = 16384
)

// Geometry is the resolved capture and projection shape for a VR session.
type Geometry struct {
	Mode       GeometryMode `json:"mode"`
	Projection Projection   `json:"projection"`
	Resolution int          `json:"resolution"`
}

// OutputSize is the encoded frame size: panoramic output is twice as wide as
// it is tall, the other modes are square.
func (g Geometry) OutputSize() (width, height int) {
	if g.Mode == GeometryPanoramic {
		return g.Resolution * 2, g.Resolution
	}
	return g.Resolution, g.Resolution
}

func (g Geometry) String() string {
	w, h := g.OutputSize()
	return fmt.Sprintf("%s %dx%d %s", g.Mode, w, h, g.Projection)
}

func ParseGeometryMode(s string) (GeometryMode, error) {
	for m := GeometryMonoscopic; m <= GeometryPanoramic; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return GeometryMonoscopic, fmt.Errorf("unknown geometry mode %q", s)
}

func ParseProjection(s string) (Projection, error) {
	for p := ProjectionEquirectangular; p <= ProjectionEquiangular; p++ {
		if p.String() == s || p.FilterName() == s {
			return p, nil
		}
	}
	return ProjectionEquirectangular, fmt.Errorf("unknown projection %q", s)
}
