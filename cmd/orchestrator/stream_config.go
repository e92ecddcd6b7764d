package main

import (
	"fmt"

	"liveorch/internal/core/domain"
	"liveorch/internal/infrastructure/engine"
	"liveorch/internal/infrastructure/identity"
	"liveorch/pkg/config"
)

// streamConfigFrom builds the initial session configuration. The preset is
// applied first so the network and advanced sections are never overwritten.
func streamConfigFrom(cfg *config.Config) (*domain.StreamConfig, error) {
	sc := domain.DefaultStreamConfig()

	if cfg.Stream.Preset != "" {
		preset, err := domain.ParseQualityPreset(cfg.Stream.Preset)
		if err != nil {
			return nil, fmt.Errorf("stream.preset: %w", err)
		}
		sc.ApplyPreset(preset)
	}
	if cfg.Stream.Variant != "" {
		variant, err := domain.ParseProtocolVariant(cfg.Stream.Variant)
		if err != nil {
			return nil, fmt.Errorf("stream.variant: %w", err)
		}
		sc.Variant = variant
	}

	sc.Network = domain.NetworkPolicy{
		Timeout:         cfg.Stream.Network.Timeout,
		RetryCount:      cfg.Stream.Network.RetryCount,
		AdaptiveBitrate: cfg.Stream.Network.AdaptiveBitrate,
		BufferSize:      cfg.Stream.Network.BufferSize,
		LowLatency:      cfg.Stream.Network.LowLatency,
	}
	sc.Destination = domain.Destination{
		StreamKey: cfg.Stream.StreamKey,
		BaseURL:   cfg.Stream.BaseURL,
	}
	sc.Advanced.CustomOptions = cfg.Stream.CustomOptions
	return sc, nil
}

func engineOptionsFrom(cfg *config.Config) engine.Options {
	return engine.Options{
		Binary: cfg.Engine.Binary,
		Devices: engine.Devices{
			CameraFormat:     cfg.Engine.CameraFormat,
			CameraDevice:     cfg.Engine.CameraDevice,
			MicrophoneFormat: cfg.Engine.MicrophoneFormat,
			MicrophoneDevice: cfg.Engine.MicrophoneDevice,
		},
		LogLevel:   cfg.Engine.LogLevel,
		StderrTail: cfg.Engine.StderrTail,
	}
}

func identityConfigFrom(cfg *config.Config) identity.Config {
	return identity.Config{
		BaseURL:          cfg.Identity.BaseURL,
		ClientID:         cfg.Identity.ClientID,
		ClientSecret:     cfg.Identity.ClientSecret,
		Scope:            cfg.Identity.Scope,
		Timeout:          cfg.Identity.Timeout,
		RetryAttempts:    cfg.Identity.RetryAttempts,
		RetryDelay:       cfg.Identity.RetryDelay,
		BreakerThreshold: cfg.Identity.BreakerThreshold,
		BreakerTimeout:   cfg.Identity.BreakerTimeout,
	}
}
