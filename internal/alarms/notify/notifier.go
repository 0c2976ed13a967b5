package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	alarms "leakwatch/internal/alarms/domain"
	telemetry "leakwatch/internal/telemetry/domain"
)

const eventReminder = "reminder"

// StateReader exposes the current alert state for reminders.
type StateReader interface {
	State() alarms.State
}

// Clock provides time for dedupe windows.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events through a template and sends them on a channel.
// With a reminder interval it re-sends while the same episode is still active.
type Notifier struct {
	channel        Channel
	template       *Template
	asset          string
	clock          Clock
	logger         *log.Logger
	state          StateReader
	reminder       time.Duration
	requestTimeout time.Duration
	cooldown       time.Duration
	dedupeWindow   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	sent   map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithReminder re-sends an active episode after the interval until it is dismissed.
func WithReminder(after time.Duration, state StateReader) Option {
	return func(n *Notifier) {
		if after > 0 && state != nil {
			n.reminder = after
			n.state = state
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same episode and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithAsset names the monitored pipeline in rendered content.
func WithAsset(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.asset = name
		}
	}
}

// WithLogger assigns a logger for delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		asset:          "pipeline",
		clock:          systemClock{},
		logger:         log.Default(),
		requestTimeout: 5 * time.Second,
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlarmNotifier. Delivery errors are logged only.
func (n *Notifier) Notify(ctx context.Context, event alarms.Event) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, string(event.Type), event)

	switch event.Type {
	case alarms.EventTriggered, alarms.EventEscalated:
		n.scheduleReminder(event)
	case alarms.EventDismissed:
		n.cancelReminder(event.EpisodeID)
	}
}

// Close stops all pending reminder timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, event alarms.Event) {
	content, err := n.template.Render(buildTemplateData(n.asset, eventType, event))
	if err != nil {
		n.logger.Printf("alert notifier: render error: %v", err)
		return
	}
	if !n.shouldSend(event.EpisodeID, eventType, content) {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.requestTimeout)
	defer cancel()
	if err := n.channel.Send(sendCtx, content); err != nil {
		n.logger.Printf("alert notifier: send error: event=%s episode=%s err=%v", eventType, event.EpisodeID, err)
		return
	}
	n.markSent(event.EpisodeID, eventType, content)
}

func (n *Notifier) scheduleReminder(event alarms.Event) {
	if n.reminder <= 0 || n.state == nil || event.EpisodeID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing := n.timers[event.EpisodeID]; existing != nil {
		existing.Stop()
	}
	n.timers[event.EpisodeID] = time.AfterFunc(n.reminder, func() {
		n.runReminder(event.EpisodeID)
	})
}

func (n *Notifier) cancelReminder(episodeID string) {
	if episodeID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[episodeID]
	delete(n.timers, episodeID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runReminder(episodeID string) {
	n.mu.Lock()
	delete(n.timers, episodeID)
	n.mu.Unlock()

	state := n.state.State()
	if state.Phase != alarms.PhaseActive || state.EpisodeID != episodeID {
		return
	}
	event := alarms.Event{
		Type:      alarms.EventType(eventReminder),
		EpisodeID: episodeID,
		Snapshot:  state.Snapshot,
		At:        n.clock.Now().UTC(),
	}
	n.dispatch(context.Background(), eventReminder, event)
	n.scheduleReminder(event)
}

func buildTemplateData(asset, eventType string, event alarms.Event) TemplateData {
	data := TemplateData{
		Asset:      asset,
		Event:      eventType,
		EventLabel: eventLabel(eventType),
		EpisodeID:  event.EpisodeID,
		Location:   "unknown",
		Time:       event.At.UTC().Format(time.RFC3339),
		Suggestion: suggestionFor(eventType, event.Snapshot),
	}
	if event.Snapshot != nil {
		data.BurstType = string(event.Snapshot.BurstType)
		data.Confidence = formatFloat(event.Snapshot.Confidence)
		data.Intensity = formatFloat(event.Snapshot.BurstIntensity)
		if event.Snapshot.LeakLocation != nil {
			data.Location = *event.Snapshot.LeakLocation
		}
	}
	if event.Previous != nil {
		data.PreviousBurstType = string(event.Previous.BurstType)
	}
	return data
}

func eventLabel(event string) string {
	switch event {
	case string(alarms.EventTriggered):
		return "Triggered"
	case string(alarms.EventEscalated):
		return "Escalated"
	case string(alarms.EventDismissed):
		return "Dismissed"
	case eventReminder:
		return "Reminder"
	default:
		return event
	}
}

func suggestionFor(eventType string, snap *alarms.Snapshot) string {
	if eventType == string(alarms.EventDismissed) {
		return "Alert acknowledged by an operator."
	}
	if snap == nil {
		return "Inspect the pipeline and confirm the alert condition."
	}
	switch snap.BurstType {
	case telemetry.BurstCatastrophic:
		return "Shut off supply immediately and dispatch a repair crew."
	case telemetry.BurstPipeline:
		return "Isolate the affected section and inspect the pipeline."
	default:
		return "Monitor the pipeline condition."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(episodeID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(episodeID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(episodeID, eventType, content string) {
	key := notificationKey(episodeID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(episodeID, eventType string) string {
	return episodeID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
