package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/pkg/errors"
	"liveorch/pkg/logger"
	"liveorch/pkg/tracing"
	"liveorch/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// IdentityClient is the part of the identity service the API drives.
type IdentityClient interface {
	ports.IdentityService
	HasDestination(ctx context.Context) bool
	Logout(ctx context.Context) error
}

// DestinationGuard claims an ingest URL for this instance before a start.
type DestinationGuard interface {
	Claim(ctx context.Context, destinationURL string) error
}

type SessionHandler struct {
	controller ports.SessionController
	sessions   ports.SessionRepository
	identity   IdentityClient
	guard      DestinationGuard
	logger     *zap.SugaredLogger
}

var _ ports.SessionHTTPHandler = (*SessionHandler)(nil)

// NewSessionHandler wires the control API. sessions and identity may be nil;
// the history and identity routes then answer 503.
func NewSessionHandler(
	controller ports.SessionController,
	sessions ports.SessionRepository,
	identity IdentityClient,
	logger *zap.SugaredLogger,
) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		sessions:   sessions,
		identity:   identity,
		logger:     logger,
	}
}

func (h *SessionHandler) SetDestinationGuard(guard DestinationGuard) {
	h.guard = guard
}

// SetupRoutes registers read routes on api and guards every mutating route
// with the operator middlewares.
func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup, operator ...gin.HandlerFunc) {
	read := api.Group("")
	write := api.Group("", operator...)

	read.GET("/session", h.GetSession)
	read.GET("/session/variants", h.ListVariants)
	read.GET("/session/config", h.GetConfig)
	read.GET("/session/geometry", h.GetGeometry)
	read.GET("/sessions", h.ListSessions)
	read.GET("/sessions/:id", h.GetSessionRecord)
	read.GET("/identity", h.GetIdentity)

	write.POST("/session/start", h.StartSession)
	write.POST("/session/stop", h.StopSession)
	write.POST("/session/pause", h.PauseSession)
	write.POST("/session/resume", h.ResumeSession)
	write.PUT("/session/variant", h.SelectVariant)
	write.PUT("/session/config", h.ReplaceConfig)
	write.PUT("/session/config/video", h.UpdateVideo)
	write.PUT("/session/config/audio", h.UpdateAudio)
	write.PUT("/session/config/network", h.UpdateNetwork)
	write.POST("/session/config/preset", h.ApplyPreset)
	write.POST("/session/config/network-speed", h.AdjustForNetwork)
	write.PUT("/session/geometry", h.UpdateGeometry)
	write.POST("/identity/login", h.IdentityLogin)
	write.POST("/identity/logout", h.IdentityLogout)
}

type sessionView struct {
	Variant           domain.ProtocolVariant `json:"variant"`
	Status            domain.SessionStatus   `json:"status"`
	StatusDescription string                 `json:"status_description"`
	Streaming         bool                   `json:"streaming"`
	Stats             domain.StreamStats     `json:"stats"`
	RunningTimeSec    int64                  `json:"running_time_s"`
	AverageBitrate    float64                `json:"average_bitrate_kbps"`
	DropRate          float64                `json:"drop_rate_percent"`
}

func (h *SessionHandler) view() sessionView {
	status := h.controller.Status()
	stats := h.controller.Stats()
	return sessionView{
		Variant:           h.controller.CurrentVariant(),
		Status:            status,
		StatusDescription: status.Description(),
		Streaming:         h.controller.IsStreaming(),
		Stats:             stats,
		RunningTimeSec:    stats.RunningTime(),
		AverageBitrate:    stats.AverageBitrate(),
		DropRate:          stats.DropRate(),
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.view())
}

func (h *SessionHandler) ListVariants(c *gin.Context) {
	type variantView struct {
		ID            domain.ProtocolVariant `json:"id"`
		Name          string                 `json:"name"`
		GeometryAware bool                   `json:"geometry_aware"`
	}
	variants := h.controller.Variants()
	out := make([]variantView, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantView{ID: v, Name: v.DisplayName(), GeometryAware: v.GeometryAware()})
	}
	c.JSON(http.StatusOK, gin.H{"current": h.controller.CurrentVariant(), "variants": out})
}

type StartSessionRequest struct {
	StreamKey string `json:"stream_key"`
	BaseURL   string `json:"base_url"`
}

// StartSession starts a session on the selected variant. Without a
// destination in the body the identity service supplies one.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	req.StreamKey = strings.TrimSpace(req.StreamKey)
	req.BaseURL = strings.TrimSpace(req.BaseURL)

	ctx, span := tracing.TraceSessionOperation(c.Request.Context(), "start", string(h.controller.CurrentVariant()))
	defer span.End()

	if h.controller.Status().IsActive() {
		c.Error(errors.NewSessionActiveError().WithContext("status", h.controller.Status().String()))
		return
	}

	if req.StreamKey == "" && req.BaseURL == "" {
		dest, appErr := h.identityDestination(ctx)
		if appErr != nil {
			tracing.RecordError(ctx, appErr)
			c.Error(appErr)
			return
		}
		req.StreamKey, req.BaseURL = dest.StreamKey, dest.BaseURL
	}

	if err := validation.ValidateStreamKey(req.StreamKey); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateIngestURL(req.BaseURL); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	cfg := h.controller.Config()
	cfg.Destination = domain.Destination{StreamKey: req.StreamKey, BaseURL: req.BaseURL}
	if err := cfg.Validate(); err != nil {
		c.Error(errors.NewConfigInvalidError(err))
		return
	}
	if h.guard != nil {
		if err := h.guard.Claim(ctx, cfg.DestinationURL()); err != nil {
			tracing.RecordError(ctx, err)
			if stderrors.Is(err, domain.ErrDestinationBusy) {
				c.Error(errors.WrapError(err, errors.ErrCodeConflict, "destination is in use by another instance", http.StatusConflict))
				return
			}
			c.Error(errors.NewServiceUnavailableError("destination lease unavailable"))
			return
		}
	}

	h.controller.Start(req.StreamKey, req.BaseURL)
	h.logger.Infow("session start requested",
		"variant", h.controller.CurrentVariant(),
		"destination_host", domain.HostOf(cfg.DestinationURL()),
		"operator_id", operatorID(c),
		"request_id", logger.RequestIDFrom(c.Request.Context()),
	)
	c.JSON(http.StatusAccepted, h.view())
}

func (h *SessionHandler) identityDestination(ctx context.Context) (*domain.Destination, *errors.AppError) {
	if h.identity == nil {
		return nil, errors.NewInvalidInputError("stream_key and base_url are required")
	}
	cred, err := h.identity.AcquireCredential(ctx)
	if err != nil {
		return nil, identityError(err)
	}
	dest, err := h.identity.FetchDestination(ctx, cred.AccessToken)
	if err != nil {
		return nil, identityError(err)
	}
	return dest, nil
}

func identityError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrNotAuthenticated):
		return errors.WrapError(err, errors.ErrCodeUnauthorized, "identity service rejected the credential", http.StatusUnauthorized)
	case stderrors.Is(err, domain.ErrNoDestination):
		return errors.WrapError(err, errors.ErrCodeNotFound, "identity service returned no ingest destination", http.StatusNotFound)
	default:
		return errors.NewBadGatewayError("identity service unavailable", err)
	}
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	h.transition(c, "stop", func(s domain.SessionStatus) bool {
		return s != domain.StatusIdle && s != domain.StatusDisconnected
	}, h.controller.Stop)
}

func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.transition(c, "pause", func(s domain.SessionStatus) bool {
		return s == domain.StatusStreaming
	}, h.controller.Pause)
}

func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.transition(c, "resume", func(s domain.SessionStatus) bool {
		return s == domain.StatusPaused
	}, h.controller.Resume)
}

// transition answers 409 when the current status does not allow op; the
// controller would ignore the call anyway.
func (h *SessionHandler) transition(c *gin.Context, op string, allowed func(domain.SessionStatus) bool, fn func()) {
	_, span := tracing.TraceSessionOperation(c.Request.Context(), op, string(h.controller.CurrentVariant()))
	defer span.End()

	status := h.controller.Status()
	if !allowed(status) {
		c.Error(errors.NewIllegalTransitionError(op+" is not allowed while "+status.String()).
			WithContext("status", status.String()))
		return
	}
	fn()
	h.logger.Infow("session "+op+" requested", "variant", h.controller.CurrentVariant(), "operator_id", operatorID(c))
	c.JSON(http.StatusAccepted, h.view())
}

type SelectVariantRequest struct {
	Variant string `json:"variant" binding:"required"`
}

func (h *SessionHandler) SelectVariant(c *gin.Context) {
	var req SelectVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("variant is required"))
		return
	}
	variant, err := domain.ParseProtocolVariant(strings.TrimSpace(req.Variant))
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	_, span := tracing.TraceSessionOperation(c.Request.Context(), "select_variant", string(variant))
	defer span.End()

	if !h.controller.SelectVariant(variant) {
		if !containsVariant(h.controller.Variants(), variant) {
			c.Error(errors.NewNotFoundError("variant " + string(variant)))
			return
		}
		c.Error(errors.NewSessionActiveError())
		return
	}
	c.JSON(http.StatusOK, h.view())
}

func containsVariant(list []domain.ProtocolVariant, v domain.ProtocolVariant) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// configView never exposes the stream key.
func configView(cfg *domain.StreamConfig) gin.H {
	return gin.H{
		"video":            cfg.Video,
		"audio":            cfg.Audio,
		"network":          networkView(cfg.Network),
		"variant":          cfg.Variant,
		"advanced":         cfg.Advanced,
		"destination_host": domain.HostOf(cfg.Destination.BaseURL),
		"aspect_ratio":     cfg.AspectRatio(),
		"summary":          cfg.Summary(),
	}
}

type NetworkPolicyRequest struct {
	TimeoutMs       int64 `json:"timeout_ms"`
	RetryCount      int   `json:"retry_count"`
	AdaptiveBitrate bool  `json:"adaptive_bitrate"`
	BufferSizeMs    int64 `json:"buffer_size_ms"`
	LowLatency      bool  `json:"low_latency"`
}

func networkView(p domain.NetworkPolicy) NetworkPolicyRequest {
	return NetworkPolicyRequest{
		TimeoutMs:       p.Timeout.Milliseconds(),
		RetryCount:      p.RetryCount,
		AdaptiveBitrate: p.AdaptiveBitrate,
		BufferSizeMs:    p.BufferSize.Milliseconds(),
		LowLatency:      p.LowLatency,
	}
}

func (h *SessionHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

type ReplaceConfigRequest struct {
	Video    domain.VideoConfig     `json:"video"`
	Audio    domain.AudioConfig     `json:"audio"`
	Network  NetworkPolicyRequest   `json:"network"`
	Advanced domain.AdvancedOptions `json:"advanced"`
}

// ReplaceConfig swaps the whole configuration between sessions. The
// destination and variant are kept.
func (h *SessionHandler) ReplaceConfig(c *gin.Context) {
	var req ReplaceConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if h.controller.Status().IsActive() {
		c.Error(errors.NewSessionActiveError())
		return
	}
	if appErr := validateVideo(req.Video.Width, req.Video.Height, req.Video.Bitrate, req.Video.FPS); appErr != nil {
		c.Error(appErr)
		return
	}
	if err := validation.ValidateAudio(req.Audio.SampleRate, req.Audio.Channels, req.Audio.Bitrate); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	policy, appErr := req.Network.policy()
	if appErr != nil {
		c.Error(appErr)
		return
	}

	current := h.controller.Config()
	cfg := &domain.StreamConfig{
		Video:       req.Video,
		Audio:       req.Audio,
		Network:     policy,
		Destination: current.Destination,
		Variant:     current.Variant,
		Advanced:    req.Advanced,
	}
	h.controller.UpdateConfig(cfg)
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

type VideoQualityRequest struct {
	Width       int `json:"width" binding:"required"`
	Height      int `json:"height" binding:"required"`
	BitrateKbps int `json:"bitrate_kbps" binding:"required"`
	FPS         int `json:"fps" binding:"required"`
}

func validateVideo(width, height, bitrate, fps int) *errors.AppError {
	if err := validation.ValidateResolution(width, height); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateBitrate(bitrate); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateFPS(fps); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	return nil
}

func (h *SessionHandler) UpdateVideo(c *gin.Context) {
	var req VideoQualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("width, height, bitrate_kbps and fps are required"))
		return
	}
	if appErr := validateVideo(req.Width, req.Height, req.BitrateKbps, req.FPS); appErr != nil {
		c.Error(appErr)
		return
	}
	h.controller.UpdateVideoQuality(req.Width, req.Height, req.BitrateKbps, req.FPS)
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

type AudioQualityRequest struct {
	SampleRate  int `json:"sample_rate" binding:"required"`
	Channels    int `json:"channels" binding:"required"`
	BitrateKbps int `json:"bitrate_kbps" binding:"required"`
}

func (h *SessionHandler) UpdateAudio(c *gin.Context) {
	var req AudioQualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("sample_rate, channels and bitrate_kbps are required"))
		return
	}
	if err := validation.ValidateAudio(req.SampleRate, req.Channels, req.BitrateKbps); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	h.controller.UpdateAudioQuality(req.SampleRate, req.Channels, req.BitrateKbps)
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

func (r NetworkPolicyRequest) policy() (domain.NetworkPolicy, *errors.AppError) {
	if r.TimeoutMs <= 0 || r.BufferSizeMs < 0 || r.RetryCount < 0 {
		return domain.NetworkPolicy{}, errors.NewInvalidInputError("timeout_ms must be > 0; retry_count and buffer_size_ms must be >= 0")
	}
	return domain.NetworkPolicy{
		Timeout:         time.Duration(r.TimeoutMs) * time.Millisecond,
		RetryCount:      r.RetryCount,
		AdaptiveBitrate: r.AdaptiveBitrate,
		BufferSize:      time.Duration(r.BufferSizeMs) * time.Millisecond,
		LowLatency:      r.LowLatency,
	}, nil
}

func (h *SessionHandler) UpdateNetwork(c *gin.Context) {
	var req NetworkPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	policy, appErr := req.policy()
	if appErr != nil {
		c.Error(appErr)
		return
	}
	h.controller.UpdateNetworkPolicy(policy)
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

type PresetRequest struct {
	Preset string `json:"preset" binding:"required"`
}

func (h *SessionHandler) ApplyPreset(c *gin.Context) {
	var req PresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("preset is required"))
		return
	}
	preset, err := domain.ParseQualityPreset(strings.TrimSpace(req.Preset))
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	h.controller.ApplyPreset(preset)
	c.JSON(http.StatusOK, configView(h.controller.Config()))
}

type NetworkSpeedRequest struct {
	SpeedKbps int `json:"speed_kbps" binding:"required"`
}

func (h *SessionHandler) AdjustForNetwork(c *gin.Context) {
	var req NetworkSpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SpeedKbps <= 0 {
		c.Error(errors.NewInvalidInputError("speed_kbps must be > 0"))
		return
	}
	adj := h.controller.AdjustForNetwork(req.SpeedKbps)
	c.JSON(http.StatusOK, gin.H{"adjustment": adj, "changed": adj.Changed()})
}

// geometryControl is only offered while a geometry-aware variant is selected.
func (h *SessionHandler) geometryControl() (ports.GeometryControl, bool) {
	if !h.controller.CurrentVariant().GeometryAware() {
		return nil, false
	}
	return h.controller.GeometryControl()
}

func (h *SessionHandler) GetGeometry(c *gin.Context) {
	control, ok := h.geometryControl()
	if !ok {
		c.Error(errors.NewNotFoundError("geometry control for variant " + string(h.controller.CurrentVariant())))
		return
	}
	g := control.Geometry()
	width, height := g.OutputSize()
	c.JSON(http.StatusOK, gin.H{
		"mode":       g.Mode.String(),
		"label":      g.Mode.Label(),
		"projection": g.Projection.String(),
		"resolution": g.Resolution,
		"width":      width,
		"height":     height,
	})
}

type GeometryRequest struct {
	Mode       string `json:"mode"`
	Projection string `json:"projection"`
	Resolution int    `json:"resolution"`
}

func (h *SessionHandler) UpdateGeometry(c *gin.Context) {
	control, ok := h.geometryControl()
	if !ok {
		c.Error(errors.NewNotFoundError("geometry control for variant " + string(h.controller.CurrentVariant())))
		return
	}
	var req GeometryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if req.Mode != "" {
		mode, err := domain.ParseGeometryMode(req.Mode)
		if err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		if err := control.SetMode(mode); err != nil {
			c.Error(geometryError(err))
			return
		}
	}
	if req.Projection != "" {
		projection, err := domain.ParseProjection(req.Projection)
		if err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		if err := control.SetProjection(projection); err != nil {
			c.Error(geometryError(err))
			return
		}
	}
	if req.Resolution != 0 {
		if err := control.SetResolution(req.Resolution); err != nil {
			c.Error(geometryError(err))
			return
		}
	}
	h.GetGeometry(c)
}

func geometryError(err error) *errors.AppError {
	if stderrors.Is(err, domain.ErrSessionActive) {
		return errors.NewSessionActiveError()
	}
	return errors.NewInvalidInputError(err.Error())
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	if h.sessions == nil {
		c.Error(errors.NewServiceUnavailableError("session history is not configured"))
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(errors.NewInvalidInputError("limit must be a number"))
			return
		}
		if err := validation.ValidateLimit(n, maxHistoryLimit); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		limit = n
	}

	records, err := h.sessions.List(c.Request.Context(), limit)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to list sessions", http.StatusInternalServerError))
		return
	}
	if records == nil {
		records = []*domain.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "count": len(records)})
}

func (h *SessionHandler) GetSessionRecord(c *gin.Context) {
	if h.sessions == nil {
		c.Error(errors.NewServiceUnavailableError("session history is not configured"))
		return
	}
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	record, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		if stderrors.Is(err, domain.ErrSessionNotFound) {
			c.Error(errors.NewNotFoundError("session"))
			return
		}
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to load session", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *SessionHandler) GetIdentity(c *gin.Context) {
	if h.identity == nil {
		c.Error(errors.NewServiceUnavailableError("identity service is not configured"))
		return
	}
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"authenticated":   h.identity.IsAuthenticated(ctx),
		"has_destination": h.identity.HasDestination(ctx),
	})
}

func (h *SessionHandler) IdentityLogin(c *gin.Context) {
	if h.identity == nil {
		c.Error(errors.NewServiceUnavailableError("identity service is not configured"))
		return
	}
	ctx, span := tracing.TraceIdentityCall(c.Request.Context(), "login")
	defer span.End()

	dest, appErr := h.identityDestination(ctx)
	if appErr != nil {
		c.Error(appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated":    true,
		"destination_host": domain.HostOf(dest.BaseURL),
	})
}

func (h *SessionHandler) IdentityLogout(c *gin.Context) {
	if h.identity == nil {
		c.Error(errors.NewServiceUnavailableError("identity service is not configured"))
		return
	}
	if err := h.identity.Logout(c.Request.Context()); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to clear credential", http.StatusInternalServerError))
		return
	}
	c.Status(http.StatusNoContent)
}

func operatorID(c *gin.Context) string {
	return c.GetString("operator_id")
}
