package services

import (
	"fmt"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"

	"go.uber.org/zap"
)

// VRProtocol is the geometry-aware variant. Geometry overrides go through
// the embedded strategy.
type VRProtocol struct {
	*ProtocolMachine
	*VRStrategy
}

var (
	_ ports.StreamingProtocol = (*ProtocolMachine)(nil)
	_ ports.StreamingProtocol = (*VRProtocol)(nil)
	_ ports.GeometryControl   = (*VRProtocol)(nil)
)

// NewVRProtocol builds the geometry-aware variant.
func NewVRProtocol(engine ports.TransportEngine, cfg *domain.StreamConfig, logger *zap.SugaredLogger) *VRProtocol {
	strategy := NewVRStrategy(cfg, logger.With("component", "vr_geometry"))
	machine := NewProtocolMachine(domain.VariantVR, engine, strategy, logger)
	machine.SetConfig(cfg)
	return &VRProtocol{ProtocolMachine: machine, VRStrategy: strategy}
}

// NewFlatProtocol builds one of the flat-video variants.
func NewFlatProtocol(variant domain.ProtocolVariant, engine ports.TransportEngine, cfg *domain.StreamConfig, logger *zap.SugaredLogger) *ProtocolMachine {
	machine := NewProtocolMachine(variant, engine, NewFlatStrategy(variant), logger)
	machine.SetConfig(cfg)
	return machine
}

// NewProtocol builds the protocol instance for variant. Each instance gets
// its own copy of cfg.
func NewProtocol(variant domain.ProtocolVariant, engine ports.TransportEngine, cfg *domain.StreamConfig, logger *zap.SugaredLogger) (ports.StreamingProtocol, error) {
	switch variant {
	case domain.VariantVR:
		return NewVRProtocol(engine, cfg.Copy(), logger), nil
	case domain.VariantOKB, domain.VariantATF, domain.VariantATS:
		return NewFlatProtocol(variant, engine, cfg.Copy(), logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownVariant, string(variant))
	}
}

// NewProtocolRegistry builds one instance of every known variant.
func NewProtocolRegistry(engine ports.TransportEngine, cfg *domain.StreamConfig, logger *zap.SugaredLogger) map[domain.ProtocolVariant]ports.StreamingProtocol {
	registry := make(map[domain.ProtocolVariant]ports.StreamingProtocol, len(domain.AllVariants()))
	for _, variant := range domain.AllVariants() {
		protocol, err := NewProtocol(variant, engine, cfg, logger)
		if err != nil {
			logger.Errorw("skipping protocol variant", "variant", variant, "error", err)
			continue
		}
		registry[variant] = protocol
	}
	return registry
}
