package domain

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid stream configuration")
	ErrIllegalTransition = errors.New("illegal session transition")
	ErrSessionActive     = errors.New("session is active")
	ErrUnknownVariant    = errors.New("unknown protocol variant")
	ErrEngineDispatch    = errors.New("transport engine dispatch failed")
	ErrTransportFailure  = errors.New("transport failure")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNoDestination     = errors.New("no ingest destination")
	ErrReleased          = errors.New("orchestrator released")
	ErrInvalidGeometry   = errors.New("invalid vr geometry")
	ErrDestinationBusy   = errors.New("destination is in use by another instance")
)
