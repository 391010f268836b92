package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geovoz/geovoz-core/internal/bus"
	"github.com/geovoz/geovoz-core/internal/config"
	"github.com/geovoz/geovoz-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Capabilities the explorer asks the host agent for. Voice interaction needs
// the first two; location only gates route requests.
const (
	CapMicrophone  = "microphone"
	CapSpeechRecog = "speech_recognition"
	CapLocation    = "location"
)

func knownCapabilities() []string {
	return []string{CapMicrophone, CapSpeechRecog, CapLocation}
}

// Registry negotiates capability grants with the host agent over the bus and
// republishes the grant table on an interval so late subscribers converge.
// Ungranted capabilities degrade features instead of failing them: no
// microphone means tap-only exploration, no location means no routes.
type Registry struct {
	cfg  config.PermissionsConfig
	log  *slog.Logger
	bus  *bus.Client
	sub  *nats.Subscription
	stop context.CancelFunc

	mu      sync.RWMutex
	grants  map[string]bool
	pending map[string]string // request id -> capability

	grantGauge metric.Int64ObservableGauge
}

// NewRegistry requests every known capability and starts the snapshot loop.
// With cfg.Enabled false it returns a registry that grants everything, for
// hosts without a permission agent.
func NewRegistry(ctx context.Context, cfg config.PermissionsConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "permission-registry")),
		bus:     busClient,
		grants:  make(map[string]bool, len(knownCapabilities())),
		pending: make(map[string]string),
	}

	if !cfg.Enabled {
		for _, capability := range knownCapabilities() {
			r.grants[capability] = true
		}
		r.log.Info("permission negotiation disabled, all capabilities granted")
		return r, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r.stop = cancel

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}

	sub, err := busClient.Conn().Subscribe(protocol.SubjectPermissionGrant, r.handleGrant)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe grants: %w", err)
	}
	r.sub = sub

	for _, capability := range knownCapabilities() {
		if err := r.request(capability); err != nil {
			r.log.Warn("failed to request capability",
				slog.String("capability", capability), slogError(err))
		}
	}

	go r.runSnapshots(ctx)
	return r, nil
}

// Close stops the snapshot loop and drops the grant subscription.
func (r *Registry) Close() {
	if r.stop != nil {
		r.stop()
	}
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

func (r *Registry) request(capability string) error {
	id := uuid.NewString()
	msg := protocol.PermissionRequest{
		RequestID:  id,
		Capability: capability,
		Timestamp:  time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.pending[id] = capability
	r.grants[capability] = false
	r.mu.Unlock()

	if err := r.bus.Conn().Publish(protocol.SubjectPermissionReq, payload); err != nil {
		return err
	}

	// An agent that never answers is a denial, not a hang.
	timeout := time.Duration(r.cfg.RequestTimeoutMS) * time.Millisecond
	time.AfterFunc(timeout, func() { r.expire(id) })
	return nil
}

func (r *Registry) expire(requestID string) {
	r.mu.Lock()
	capability, waiting := r.pending[requestID]
	if waiting {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()

	if waiting {
		r.log.Warn("permission request timed out, treating as denied",
			slog.String("capability", capability))
		r.publishState()
	}
}

func (r *Registry) handleGrant(msg *nats.Msg) {
	var grant protocol.PermissionGrant
	if err := json.Unmarshal(msg.Data, &grant); err != nil {
		r.log.Warn("invalid grant message", slogError(err))
		return
	}

	r.mu.Lock()
	capability, waiting := r.pending[grant.RequestID]
	if !waiting {
		r.mu.Unlock()
		r.log.Warn("grant for unknown request", slog.String("request_id", grant.RequestID))
		return
	}
	delete(r.pending, grant.RequestID)
	if grant.Capability != "" && grant.Capability != capability {
		r.mu.Unlock()
		r.log.Warn("grant names wrong capability",
			slog.String("want", capability), slog.String("got", grant.Capability))
		return
	}
	r.grants[capability] = grant.Granted
	r.mu.Unlock()

	r.log.Info("capability answered",
		slog.String("capability", capability), slog.Bool("granted", grant.Granted))
	r.publishState()
}

func (r *Registry) runSnapshots(ctx context.Context) {
	interval := time.Duration(r.cfg.SnapshotIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishState()
		}
	}
}

func (r *Registry) publishState() {
	snapshot := protocol.PermissionState{
		Granted:   r.grantTable(),
		Degraded:  r.Degraded(),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectPermissionState, payload); err != nil {
		r.log.Warn("failed to publish permission state", slogError(err))
	}
}

func (r *Registry) grantTable() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table := make(map[string]bool, len(r.grants))
	for capability, granted := range r.grants {
		table[capability] = granted
	}
	return table
}

// Granted reports whether one capability has been granted.
func (r *Registry) Granted(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[capability]
}

// Degraded reports whether any known capability is missing.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, capability := range knownCapabilities() {
		if !r.grants[capability] {
			return true
		}
	}
	return false
}

// VoiceAllowed reports whether voice interaction may run. It satisfies the
// dialog controller's permission gate.
func (r *Registry) VoiceAllowed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[CapMicrophone] && r.grants[CapSpeechRecog]
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/geovoz/geovoz-core/permissions")
	gauge, err := meter.Int64ObservableGauge("permission_grants",
		metric.WithDescription("Number of granted capabilities"))
	if err != nil {
		return err
	}
	r.grantGauge = gauge
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		var granted int64
		for _, ok := range r.grants {
			if ok {
				granted++
			}
		}
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, granted)
		return nil
	}, gauge)
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
