package ui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/geovoz/geovoz-core/internal/bus"
	"github.com/geovoz/geovoz-core/internal/catalog"
	"github.com/geovoz/geovoz-core/internal/dialog"
	"github.com/geovoz/geovoz-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Controls is what the adapter drives on behalf of the view layer.
type Controls interface {
	PressMic()
	TapPin(countryID string)
	CloseCard()
}

// LocationGate reports whether route computation from the user's position is
// permitted.
type LocationGate interface {
	LocationAllowed() bool
}

// Adapter connects the view layer to the core over the bus. UI events come
// in and become controller calls or map collaborator requests; controller
// effects go out as intents the view renders. The core never draws anything
// itself.
type Adapter struct {
	bus      *bus.Client
	catalog  *catalog.Catalog
	controls Controls
	gate     LocationGate
	log      *slog.Logger
	subs     []*nats.Subscription
}

func NewAdapter(busClient *bus.Client, cat *catalog.Catalog, gate LocationGate, log *slog.Logger) *Adapter {
	return &Adapter{
		bus:     busClient,
		catalog: cat,
		gate:    gate,
		log:     log.With(slog.String("component", "ui-adapter")),
	}
}

// Start binds the controls and subscribes to the inbound subjects. Call Close
// to drop them. Controls are passed here rather than at construction because
// the dialog controller publishes through this adapter: it has to exist
// before the controller does.
func (a *Adapter) Start(controls Controls) error {
	a.controls = controls
	conn := a.bus.Conn()

	eventSub, err := conn.Subscribe(protocol.SubjectUIEventPrefix, a.handleUIEvent)
	if err != nil {
		return fmt.Errorf("subscribe ui events: %w", err)
	}
	a.subs = append(a.subs, eventSub)

	resultSub, err := conn.Subscribe(protocol.SubjectMapResult, a.handleMapResult)
	if err != nil {
		return fmt.Errorf("subscribe map results: %w", err)
	}
	a.subs = append(a.subs, resultSub)

	return nil
}

func (a *Adapter) Close() {
	for _, sub := range a.subs {
		_ = sub.Drain()
	}
}

func (a *Adapter) handleUIEvent(msg *nats.Msg) {
	var ev protocol.UIEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		a.log.Warn("invalid ui event", slogError(err))
		return
	}

	switch ev.Type {
	case protocol.UIEventPressMic:
		a.controls.PressMic()
	case protocol.UIEventTapPin:
		a.controls.TapPin(ev.CountryID)
	case protocol.UIEventCloseCard:
		a.controls.CloseCard()
	case protocol.UIEventRequestRoute:
		a.requestMap(protocol.MapRequestRoute, ev.CountryID)
	case protocol.UIEventRequestPanorama:
		a.requestMap(protocol.MapRequestPanorama, ev.CountryID)
	default:
		a.log.Warn("unknown ui event", slog.String("type", ev.Type))
	}
}

func (a *Adapter) requestMap(kind, countryID string) {
	country, ok := a.catalog.ByID(countryID)
	if !ok {
		a.log.Warn("map request for unknown country", slog.String("country_id", countryID))
		return
	}
	if kind == protocol.MapRequestRoute && a.gate != nil && !a.gate.LocationAllowed() {
		a.publishIntent(protocol.Intent{
			Type:    protocol.IntentAlert,
			Message: "La ubicación no está disponible para calcular rutas.",
		})
		return
	}

	req := protocol.MapRequest{
		Type:      kind,
		CountryID: country.ID,
		Latitude:  country.Latitude,
		Longitude: country.Longitude,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := a.bus.Conn().Publish(protocol.SubjectMapRequest, payload); err != nil {
		a.log.Warn("failed to publish map request", slogError(err))
	}
}

func (a *Adapter) handleMapResult(msg *nats.Msg) {
	var result protocol.MapResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		a.log.Warn("invalid map result", slogError(err))
		return
	}
	if result.OK {
		return
	}

	// Failures surface as a one-shot alert; nothing is retried.
	var text string
	switch result.Reason {
	case protocol.ReasonNoRouteAvailable:
		text = "No hay ruta disponible."
	case protocol.ReasonNoPanoramaAvailable:
		text = "No hay panorama disponible aquí."
	default:
		text = "El mapa no pudo completar la solicitud."
	}
	a.publishIntent(protocol.Intent{
		Type:      protocol.IntentAlert,
		CountryID: result.CountryID,
		Message:   text,
	})
}

// FocusCountry publishes a camera move toward the country at the configured
// viewing distance.
func (a *Adapter) FocusCountry(country *catalog.Country, distanceM float64) {
	a.publishIntent(protocol.Intent{
		Type:      protocol.IntentFocusCountry,
		CountryID: country.ID,
		Latitude:  country.Latitude,
		Longitude: country.Longitude,
		Distance:  distanceM,
	})
}

// ShowCard publishes a request to open the country's detail card.
func (a *Adapter) ShowCard(country *catalog.Country) {
	a.publishIntent(protocol.Intent{
		Type:      protocol.IntentShowCard,
		CountryID: country.ID,
	})
}

// StatusMessage publishes a status line update.
func (a *Adapter) StatusMessage(text string) {
	a.publishIntent(protocol.Intent{
		Type:    protocol.IntentStatus,
		Message: text,
	})
}

// ClearRoute publishes removal of any drawn route overlay.
func (a *Adapter) ClearRoute() {
	a.publishIntent(protocol.Intent{Type: protocol.IntentClearRoute})
}

// StateChanged publishes the dialog snapshot for the mic button and status
// line.
func (a *Adapter) StateChanged(snap dialog.Snapshot) {
	msg := protocol.StateSnapshot{
		State:      string(snap.State),
		Status:     snap.Status,
		Transcript: snap.Transcript,
		CountryID:  snap.CountryID,
		Epoch:      snap.Epoch,
		Timestamp:  time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := a.bus.Conn().Publish(protocol.SubjectDialogState, payload); err != nil {
		a.log.Warn("failed to publish dialog state", slogError(err))
	}
}

func (a *Adapter) publishIntent(intent protocol.Intent) {
	intent.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(intent)
	if err != nil {
		return
	}
	if err := a.bus.Conn().Publish(protocol.SubjectIntentPrefix, payload); err != nil {
		a.log.Warn("failed to publish intent", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
