// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package audit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/OpenHealthLab/HealthAPI/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `json:"enabled"`

	// RetentionDays is how long to keep audit events.
	RetentionDays int `json:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`

	// LogToStdout also writes events to the application log.
	LogToStdout bool `json:"log_to_stdout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Recorder is the audit logging service. Events are buffered and written
// by a background goroutine so recording never blocks a request, and the
// buffer is drained before Close returns.
type Recorder struct {
	config    *Config
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewRecorder creates an audit recorder writing to store.
func NewRecorder(store Store, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	r := &Recorder{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	r.wg.Add(1)
	go r.asyncWriter()

	return r
}

// asyncWriter processes events from the buffer.
func (r *Recorder) asyncWriter() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-r.eventChan:
					r.writeEvent(event)
				default:
					return
				}
			}
		case event := <-r.eventChan:
			r.writeEvent(event)
		}
	}
}

// writeEvent persists an event to the store.
func (r *Recorder) writeEvent(event *Event) {
	if r.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
			return
		}
	}
	eventsRecordedTotal.WithLabelValues(string(event.Type)).Inc()
}

// Record enqueues an audit event. When the buffer is full the event is
// dropped and counted rather than blocking the caller.
func (r *Recorder) Record(event *Event) {
	if !r.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.PrincipalID == "" {
		event.PrincipalID = AnonymousPrincipal
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	select {
	case r.eventChan <- event:
	default:
		eventsDroppedTotal.Inc()
		logging.Warn().Str("event_id", event.ID).Msg("Audit event buffer full, dropping event")
	}
}

// Close shuts down the recorder, draining buffered events first.
func (r *Recorder) Close() error {
	close(r.stopChan)
	r.wg.Wait()
	return nil
}

// StartCleanupRoutine deletes events past the retention window on a timer,
// until the context is canceled.
func (r *Recorder) StartCleanupRoutine(ctx context.Context) {
	interval := r.config.CleanupInterval
	retention := r.config.RetentionDays
	if interval <= 0 || retention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := r.now().AddDate(0, 0, -retention)
				count, err := r.store.Delete(ctx, cutoff)
				if err != nil {
					logging.Error().Err(err).Msg("Audit cleanup error")
				} else if count > 0 {
					logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
				}
			}
		}
	}()
}

// Query retrieves events matching the filter.
func (r *Recorder) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return r.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (r *Recorder) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return r.store.Count(ctx, filter)
}

// Helper methods for common audit events

// RecordAuthSuccess records a successful authentication.
func (r *Recorder) RecordAuthSuccess(ctx context.Context, principalID, username string, source Source, twoFactor bool) {
	r.Record(&Event{
		Type:        EventTypeAuthSuccess,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		PrincipalID: principalID,
		Username:    username,
		Action:      "authenticate",
		Source:      sourceWithRequestID(ctx, source),
		Details:     mustJSON(map[string]bool{"two_factor": twoFactor}),
	})
}

// RecordAuthFailure records a failed authentication attempt. errorKind is a
// stable label such as "invalid_credentials" or "invalid_2fa_code"; the
// principal is anonymous when the username is unknown.
func (r *Recorder) RecordAuthFailure(ctx context.Context, principalID, username, errorKind string, source Source) {
	r.Record(&Event{
		Type:        EventTypeAuthFailure,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		PrincipalID: principalID,
		Username:    username,
		Action:      "authenticate",
		ErrorKind:   errorKind,
		Source:      sourceWithRequestID(ctx, source),
	})
}

// RecordRateLimited records an authentication attempt rejected by the
// rate limiter before credentials were checked.
func (r *Recorder) RecordRateLimited(ctx context.Context, username string, source Source) {
	r.Record(&Event{
		Type:      EventTypeAuthRateLimited,
		Severity:  SeverityWarning,
		Outcome:   OutcomeFailure,
		Username:  username,
		Action:    "authenticate",
		ErrorKind: "rate_limited",
		Source:    sourceWithRequestID(ctx, source),
	})
}

// RecordAuthzDecision records exactly one event per authorization check.
func (r *Recorder) RecordAuthzDecision(ctx context.Context, principalID, username, resource, action string, allowed bool, errorKind string, source Source) {
	event := &Event{
		Type:        EventTypeAuthzGranted,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		PrincipalID: principalID,
		Username:    username,
		Action:      action,
		Resource:    resource,
		Source:      sourceWithRequestID(ctx, source),
	}
	if !allowed {
		event.Type = EventTypeAuthzDenied
		event.Severity = SeverityWarning
		event.Outcome = OutcomeFailure
		event.ErrorKind = errorKind
	}
	r.Record(event)
}

// RecordLogout records revocation of a single session.
func (r *Recorder) RecordLogout(ctx context.Context, principalID, username, jti string, source Source) {
	r.Record(&Event{
		Type:        EventTypeLogout,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		PrincipalID: principalID,
		Username:    username,
		Action:      "logout",
		Source:      sourceWithRequestID(ctx, source),
		Details:     mustJSON(map[string]string{"jti": jti}),
	})
}

// RecordLogoutAll records revocation of every session of a principal.
func (r *Recorder) RecordLogoutAll(ctx context.Context, principalID, username string, revoked int, source Source) {
	r.Record(&Event{
		Type:        EventTypeLogoutAll,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		PrincipalID: principalID,
		Username:    username,
		Action:      "logout_all",
		Source:      sourceWithRequestID(ctx, source),
		Details:     mustJSON(map[string]int{"sessions_revoked": revoked}),
	})
}

// RecordTokenRefresh records a refresh rotation or its rejection.
func (r *Recorder) RecordTokenRefresh(ctx context.Context, principalID, username string, success bool, errorKind string, source Source) {
	event := &Event{
		Type:        EventTypeTokenRefreshed,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		PrincipalID: principalID,
		Username:    username,
		Action:      "refresh",
		Source:      sourceWithRequestID(ctx, source),
	}
	if !success {
		event.Type = EventTypeTokenRejected
		event.Severity = SeverityWarning
		event.Outcome = OutcomeFailure
		event.ErrorKind = errorKind
	}
	r.Record(event)
}

// RecordAccountEvent records account-lifecycle events such as registration,
// password changes, and two-factor state changes.
func (r *Recorder) RecordAccountEvent(ctx context.Context, typ EventType, principalID, username, action string, outcome Outcome, errorKind string, source Source) {
	severity := SeverityInfo
	if outcome == OutcomeFailure {
		severity = SeverityWarning
	}
	r.Record(&Event{
		Type:        typ,
		Severity:    severity,
		Outcome:     outcome,
		PrincipalID: principalID,
		Username:    username,
		Action:      action,
		ErrorKind:   errorKind,
		Source:      sourceWithRequestID(ctx, source),
	})
}

// mustJSON converts a value to JSON, returning empty object on error.
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func sourceWithRequestID(ctx context.Context, source Source) Source {
	if source.RequestID == "" && ctx != nil {
		source.RequestID = logging.RequestIDFromContext(ctx)
	}
	return source
}

// SourceFromRequest creates a Source from an HTTP request.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = xff
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}

	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
