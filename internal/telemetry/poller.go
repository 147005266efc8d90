package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	devices "powerstation-cloud/internal/devices/domain"
	"powerstation-cloud/internal/observability/metrics"
)

const (
	defaultExtraBatteryTTL = 5 * time.Minute
	maxBatteryCacheSize    = 1024
)

// Cloud is the slice of the vendor API the poller needs.
type Cloud interface {
	ListDevices(ctx context.Context) ([]CloudDevice, error)
	DeviceQuota(ctx context.Context, serial string) (Quota, error)
	ExtraBatteries(ctx context.Context, serial string) ([]ExtraBattery, error)
}

// Evaluator consumes one snapshot per device per tick.
type Evaluator interface {
	EvaluateDevice(ctx context.Context, device devices.Device, current devices.Metrics, previous *devices.Metrics) error
}

// Recorder persists telemetry history rows.
type Recorder interface {
	Record(ctx context.Context, m devices.Metrics) error
}

type batteryCacheEntry struct {
	batteries []ExtraBattery
	fetchedAt time.Time
}

// Poller periodically pulls device state from the cloud, refreshes the
// device registry and snapshot store, records history, and hands each
// snapshot to the rule engine.
type Poller struct {
	cloud     Cloud
	registry  devices.Repository
	snapshots *SnapshotStore
	evaluator Evaluator
	recorder  Recorder
	clock     Clock
	logger    *log.Logger

	batteryTTL time.Duration
	batteryMu  sync.Mutex
	batteries  map[string]batteryCacheEntry

	cron    *cron.Cron
	entryID cron.EntryID
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithPollerLogger assigns a logger.
func WithPollerLogger(logger *log.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPollerClock assigns a clock.
func WithPollerClock(clock Clock) PollerOption {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithRecorder assigns a history recorder.
func WithRecorder(recorder Recorder) PollerOption {
	return func(p *Poller) {
		p.recorder = recorder
	}
}

// WithExtraBatteryTTL overrides the expansion pack cache TTL.
func WithExtraBatteryTTL(ttl time.Duration) PollerOption {
	return func(p *Poller) {
		if ttl > 0 {
			p.batteryTTL = ttl
		}
	}
}

// NewPoller constructs a poller.
func NewPoller(cloud Cloud, registry devices.Repository, snapshots *SnapshotStore, evaluator Evaluator, opts ...PollerOption) (*Poller, error) {
	if cloud == nil {
		return nil, errors.New("telemetry: nil cloud client")
	}
	if registry == nil {
		return nil, errors.New("telemetry: nil device repository")
	}
	if snapshots == nil {
		return nil, errors.New("telemetry: nil snapshot store")
	}
	if evaluator == nil {
		return nil, errors.New("telemetry: nil evaluator")
	}
	p := &Poller{
		cloud:      cloud,
		registry:   registry,
		snapshots:  snapshots,
		evaluator:  evaluator,
		clock:      systemClock{},
		logger:     log.Default(),
		batteryTTL: defaultExtraBatteryTTL,
		batteries:  make(map[string]batteryCacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start schedules polling at the given interval and begins running.
func (p *Poller) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("telemetry: non-positive poll interval")
	}
	if p.cron != nil {
		return errors.New("telemetry: poller already started")
	}
	p.cron = cron.New()
	id, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := p.Poll(ctx); err != nil {
			p.logger.Printf("telemetry: poll: %v", err)
		}
	})
	if err != nil {
		return err
	}
	p.entryID = id
	p.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// Poll runs one full cycle. Per-device failures are logged and skipped so
// one unreachable device does not stall the fleet.
func (p *Poller) Poll(ctx context.Context) error {
	started := p.clock.Now()
	cloudDevices, err := p.cloud.ListDevices(ctx)
	if err != nil {
		metrics.ObservePoll(false, p.clock.Now().Sub(started))
		return err
	}
	for _, cd := range cloudDevices {
		if err := p.pollDevice(ctx, cd); err != nil {
			p.logger.Printf("telemetry: device %s: %v", cd.Serial, err)
		}
	}
	metrics.ObservePoll(true, p.clock.Now().Sub(started))
	return nil
}

func (p *Poller) pollDevice(ctx context.Context, cd CloudDevice) error {
	if cd.Serial == "" {
		return errors.New("telemetry: device without serial")
	}
	now := p.clock.Now()
	device := devices.Device{
		ID:         cd.Serial,
		Serial:     cd.Serial,
		Name:       cd.Name,
		Model:      cd.Model,
		Online:     cd.Online == 1,
		LastSeenAt: now,
	}
	if device.Name == "" {
		device.Name = cd.Serial
	}
	if err := p.registry.Upsert(ctx, &device); err != nil {
		return err
	}

	m := devices.Metrics{
		DeviceID:    device.ID,
		Online:      device.Online,
		CollectedAt: now,
	}
	if device.Online {
		quota, err := p.cloud.DeviceQuota(ctx, cd.Serial)
		if err != nil {
			return err
		}
		m.SOC = quota.SOC
		m.Temperature = quota.Temperature
		m.ACInputWatts = quota.ACInputWatts
		m.ACOutputWatts = quota.ACOutputWatts
		m.SolarInputWatts = quota.SolarInputWatts
		m.DCOutputWatts = quota.DCOutputWatts
		m.TotalInputWatts = quota.TotalInputWatts
		m.TotalOutputWatts = quota.TotalOutputWatts
		m.ErrorCodes = quota.ErrorCodes
		m.HasError = len(quota.ErrorCodes) > 0

		if packs := p.extraBatteries(ctx, cd.Serial); len(packs) > 0 {
			m.SOC = blendedSOC(quota.SOC, packs)
		}
	}

	p.feed(ctx, device, m, "poll")
	return nil
}

// feed routes one snapshot through the store, history, and engine. The MQTT
// subscriber uses the same path so both sources behave identically.
func (p *Poller) feed(ctx context.Context, device devices.Device, m devices.Metrics, source string) {
	var previous *devices.Metrics
	if prev, ok := p.snapshots.Latest(device.ID); ok {
		previous = &prev
	}
	p.snapshots.Put(m)
	metrics.IncTelemetryMessage(source)

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, m); err != nil {
			p.logger.Printf("telemetry: record history for %s: %v", device.ID, err)
		}
	}
	if err := p.evaluator.EvaluateDevice(ctx, device, m, previous); err != nil {
		p.logger.Printf("telemetry: evaluate %s: %v", device.ID, err)
	}
}

// extraBatteries serves the expansion pack list through a bounded TTL cache;
// the cloud endpoint is slow and pack membership changes rarely.
func (p *Poller) extraBatteries(ctx context.Context, serial string) []ExtraBattery {
	now := p.clock.Now()
	p.batteryMu.Lock()
	entry, ok := p.batteries[serial]
	p.batteryMu.Unlock()
	if ok && now.Sub(entry.fetchedAt) <= p.batteryTTL {
		return entry.batteries
	}

	packs, err := p.cloud.ExtraBatteries(ctx, serial)
	if err != nil {
		p.logger.Printf("telemetry: extra batteries for %s: %v", serial, err)
		if ok {
			return entry.batteries
		}
		return nil
	}

	p.batteryMu.Lock()
	if len(p.batteries) >= maxBatteryCacheSize {
		for key := range p.batteries {
			delete(p.batteries, key)
			break
		}
	}
	p.batteries[serial] = batteryCacheEntry{batteries: packs, fetchedAt: now}
	p.batteryMu.Unlock()
	return packs
}

// blendedSOC averages the main unit SOC with its expansion packs, the same
// figure the vendor app shows.
func blendedSOC(main float64, packs []ExtraBattery) float64 {
	sum := main
	for _, pack := range packs {
		sum += pack.SOC
	}
	return sum / float64(len(packs)+1)
}
