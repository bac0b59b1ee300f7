// Package engine is the central orchestrator: it wires the live feed (or a
// deterministic replayer) into the order book replica, checksum verifier,
// health tracker, and frame ring buffers, and turns anomalies into incident
// bundles on disk.
//
// Lifecycle: New()/NewReplay() → Start(ctx) → [runs until ctx is cancelled]
// → Stop().
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bookguard/internal/api"
	"bookguard/internal/book"
	"bookguard/internal/checksum"
	"bookguard/internal/config"
	"bookguard/internal/feed"
	"bookguard/internal/frames"
	"bookguard/internal/health"
	"bookguard/internal/recorder"
	"bookguard/internal/replay"
	"bookguard/internal/store"
	"bookguard/pkg/wire"
)

// eventBufferSize bounds how many dashboard events can queue before the
// engine starts dropping them rather than blocking on a slow or absent
// dashboard server.
const eventBufferSize = 256

// inputFrame is the common shape both the live feed and the replayer
// produce, so the dispatch loop doesn't need to know which source it's
// reading from.
type inputFrame struct {
	TS  time.Time
	Raw []byte
}

// Engine owns every subsystem's lifecycle and the single goroutine that
// reads frames from whichever source is configured and dispatches them.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	books     *book.Table
	verifier  *checksum.Verifier
	health    *health.Tracker
	monitor   *health.Monitor
	rings     *frames.RingTable
	incidents *frames.Log
	rec       *recorder.Recorder // nil if recording is disabled
	state     *store.Store       // nil if descriptor persistence is disabled

	instrumentsMu sync.RWMutex
	instruments   map[string]wire.InstrumentPair

	liveFeed *feed.Feed       // nil in replay mode
	replayer *replay.Replayer // nil in live mode

	events  chan api.DashboardEvent
	frameCh chan inputFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCore(cfg config.Config, logger *slog.Logger) *Engine {
	var rec *recorder.Recorder
	if cfg.Record.Enabled {
		if f, err := os.Create(cfg.Record.Path); err != nil {
			logger.Error("failed to open record file, recording disabled", "path", cfg.Record.Path, "error", err)
		} else {
			rec = recorder.New(f)
		}
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		books:       book.NewTable(),
		verifier:    checksum.New(),
		health:      health.NewTracker(),
		rings:       frames.NewRingTable(cfg.Health.GlobalRingCapacity, cfg.Health.SymbolRingCapacity),
		incidents:   frames.NewLog(),
		rec:         rec,
		instruments: make(map[string]wire.InstrumentPair),
		events:      make(chan api.DashboardEvent, eventBufferSize),
		frameCh:     make(chan inputFrame, 1024),
	}

	if cfg.Store.Dir != "" {
		st, err := store.Open(cfg.Store.Dir)
		if err != nil {
			logger.Error("failed to open instrument store, persistence disabled", "dir", cfg.Store.Dir, "error", err)
		} else {
			e.state = st
			pairs, err := st.LoadAll()
			if err != nil {
				logger.Warn("failed to restore instrument descriptors", "error", err)
			}
			for _, pair := range pairs {
				e.instruments[pair.Symbol] = pair
			}
			if len(pairs) > 0 {
				logger.Info("restored instrument descriptors", "count", len(pairs))
			}
		}
	}

	return e
}

// Symbols lists every symbol with at least one tracked health record.
// Implements api.Provider.
func (e *Engine) Symbols() []string { return e.health.Symbols() }

// BookTop implements api.Provider.
func (e *Engine) BookTop(symbol string) (bid, ask book.Level, bidOK, askOK bool) {
	b := e.books.Get(symbol)
	bid, bidOK = b.BestBid()
	ask, askOK = b.BestAsk()
	return bid, ask, bidOK, askOK
}

// HealthSnapshot implements api.Provider.
func (e *Engine) HealthSnapshot(symbol string) health.Snapshot {
	return e.health.Get(symbol).Snapshot(time.Now())
}

// LastIncident implements api.Provider. Incidents are rare relative to
// frame volume, so a linear scan over the full log is cheap enough —
// the same tradeoff frames.Log itself makes internally.
func (e *Engine) LastIncident(symbol string) (frames.Incident, bool) {
	all := e.incidents.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Symbol == symbol {
			return all[i], true
		}
	}
	return frames.Incident{}, false
}

// OverallHealth implements api.Provider.
func (e *Engine) OverallHealth() health.Status {
	return e.health.Overall(time.Now())
}

// DashboardEvents implements api.Provider.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent { return e.events }

// publishEvent forwards evt to the dashboard event channel, dropping it
// rather than blocking the engine if no server is draining it.
func (e *Engine) publishEvent(evt api.DashboardEvent) {
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", evt.Type)
	}
}

// New wires the engine for live operation against the configured feed.
func New(cfg config.Config, logger *slog.Logger) *Engine {
	e := newCore(cfg, logger)
	e.liveFeed = feed.New(cfg.Feed.WSURL, cfg.Symbols, logger)
	e.liveFeed.OnDisconnect(func(err error) {
		// Every tracked symbol rides this one connection, so all of them
		// go stale together; the feed's backoff loop is about to reconnect.
		for _, sym := range e.health.Symbols() {
			h := e.health.Get(sym)
			h.SetConnected(false)
			h.RecordReconnect()
		}
		e.raiseIncident(frames.ReasonDisconnect, "", map[string]string{"error": fmt.Sprint(err)})
	})
	return e
}

// NewReplay wires the engine to replay a previously recorded frame log
// instead of connecting live.
func NewReplay(cfg config.Config, logger *slog.Logger, log []wire.RecordedFrame, pacing replay.Pacing, rule replay.FaultRule) *Engine {
	e := newCore(cfg, logger)
	e.replayer = replay.New(log, pacing, rule)
	e.replayer.OnFault(func(symbol string, fault replay.Fault, index int) {
		e.raiseIncident(frames.ReasonFaultInject, symbol, map[string]string{
			"fault": fault.Kind.String(),
			"index": fmt.Sprint(index),
		})
	})
	return e
}

// Start launches the health monitor, the frame source, and the dispatch
// loop. It does not block; call Stop (or cancel ctx) to shut down.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.monitor = health.NewMonitor(e.health, e.cfg.Health.PollInterval)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchAlerts()
	}()

	if e.liveFeed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.bootstrapInstruments()
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.liveFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("feed error", "error", err)
			}
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.pumpLiveFrames()
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.watchRateLimit()
		}()
	} else {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.pumpReplayFrames()
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchLoop()
	}()

	return nil
}

// Stop cancels all background goroutines and waits for them to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.liveFeed != nil {
		e.liveFeed.Close()
	}
	if e.rec != nil {
		if err := e.rec.Close(); err != nil {
			e.logger.Error("failed to close recorder", "error", err)
		}
	}
	e.logger.Info("shutdown complete")
}

func (e *Engine) pumpLiveFrames() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case f, ok := <-e.liveFeed.Frames():
			if !ok {
				return
			}
			select {
			case e.frameCh <- inputFrame{TS: f.TS, Raw: f.Raw}:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// bootstrapInstruments backfills instrument descriptors over REST so
// checksum verification can start before the vendor streams them over the
// socket. Failures are non-fatal; the stream will eventually deliver the
// descriptors anyway.
func (e *Engine) bootstrapInstruments() {
	if e.cfg.Feed.RESTBaseURL == "" {
		return
	}

	client := feed.NewSnapshotClient(e.cfg.Feed.RESTBaseURL)
	pairs, err := client.Instruments(e.ctx)
	if err != nil {
		if errors.Is(err, feed.ErrRateLimited) {
			e.raiseIncident(frames.ReasonRateLimit, "", map[string]string{"source": "instrument bootstrap"})
			return
		}
		e.logger.Warn("instrument bootstrap failed", "error", err)
		return
	}

	e.instrumentsMu.Lock()
	for _, pair := range pairs {
		e.instruments[pair.Symbol] = pair
	}
	e.instrumentsMu.Unlock()

	if e.state != nil {
		for _, pair := range pairs {
			if err := e.state.SaveInstrument(pair); err != nil {
				e.logger.Warn("failed to persist instrument descriptor", "symbol", pair.Symbol, "error", err)
			}
		}
	}
	e.logger.Info("instrument descriptors bootstrapped", "count", len(pairs))
}

func (e *Engine) watchRateLimit() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.liveFeed.RateLimited():
			e.raiseIncident(frames.ReasonRateLimit, "", nil)
		}
	}
}

// pumpReplayFrames drives the replayer with wall-clock time until it's
// exhausted, feeding each emitted frame into the same dispatch path a live
// feed would use.
func (e *Engine) pumpReplayFrames() {
	e.replayer.Start(time.Now())
	for !e.replayer.Done() {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		f, ok := e.replayer.NextFrame(time.Now())
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		select {
		case e.frameCh <- inputFrame{TS: f.TS, Raw: []byte(f.Raw)}:
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) dispatchLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case f := <-e.frameCh:
			e.processFrame(f)
		}
	}
}

// processFrame is the single place every frame passes through regardless
// of source: ring-buffer it, record it, and route it by channel tag.
func (e *Engine) processFrame(f inputFrame) {
	channel := wire.PeekChannel(f.Raw)
	symbol := e.primarySymbol(channel, f.Raw)

	e.rings.Push(symbol, frames.Frame{TS: f.TS, Raw: string(f.Raw)})
	if e.rec != nil {
		if err := e.rec.Write(f.TS, string(f.Raw)); err != nil {
			e.logger.Error("failed to record frame", "error", err)
		}
	}

	switch channel {
	case wire.ChannelInstrument:
		e.handleInstrumentFrame(f.Raw)
	case wire.ChannelBook:
		e.handleBookFrame(f.TS, f.Raw, symbol)
	}
}

func (e *Engine) handleInstrumentFrame(raw []byte) {
	var inst wire.InstrumentFrame
	if err := json.Unmarshal(raw, &inst); err != nil {
		e.logger.Warn("dropping malformed instrument frame", "error", err)
		return
	}
	e.instrumentsMu.Lock()
	for _, pair := range inst.Pairs {
		e.instruments[pair.Symbol] = pair
	}
	e.instrumentsMu.Unlock()

	if e.state != nil {
		for _, pair := range inst.Pairs {
			if err := e.state.SaveInstrument(pair); err != nil {
				e.logger.Warn("failed to persist instrument descriptor", "symbol", pair.Symbol, "error", err)
			}
		}
	}
}

func (e *Engine) handleBookFrame(ts time.Time, raw []byte, symbol string) {
	var bf wire.BookFrame
	if err := json.Unmarshal(raw, &bf); err != nil {
		e.logger.Warn("dropping malformed book frame", "symbol", symbol, "error", err)
		return
	}

	h := e.health.Get(symbol)
	h.SetConnected(true)
	h.RecordMessage(ts)

	for _, data := range bf.Data {
		b := e.books.Get(data.Symbol)
		bids := toLevels(data.Bids)
		asks := toLevels(data.Asks)

		switch bf.Type {
		case wire.BookMsgSnapshot:
			b.Snapshot(bids, asks)
		case wire.BookMsgUpdate:
			b.Update(bids, asks)
		default:
			continue
		}
		b.Truncate(e.cfg.Depth)

		e.instrumentsMu.RLock()
		inst, known := e.instruments[data.Symbol]
		e.instrumentsMu.RUnlock()
		if !known {
			continue
		}

		proof := e.verifier.Verify(data.Symbol, b, inst.PricePrecision, inst.QtyPrecision, data.Checksum)
		if proof.Skipped {
			continue
		}
		e.publishEvent(api.NewProofEvent(proof))
		if proof.Matched {
			h.RecordChecksumOK()
			continue
		}
		h.RecordChecksumFail(ts)
		e.raiseIncidentWithProof(data.Symbol, proof)
	}
}

func toLevels(in []wire.PriceLevel) []book.Level {
	out := make([]book.Level, len(in))
	for i, l := range in {
		out[i] = book.Level{Price: l.Price, Qty: l.Qty}
	}
	return out
}

// primarySymbol extracts the single symbol a book frame pertains to, for
// per-symbol ring routing. Non-book frames have no single symbol.
func (e *Engine) primarySymbol(channel string, raw []byte) string {
	if channel != wire.ChannelBook {
		return ""
	}
	var bf wire.BookFrame
	if err := json.Unmarshal(raw, &bf); err != nil || len(bf.Data) == 0 {
		return ""
	}
	return bf.Data[0].Symbol
}

func (e *Engine) watchAlerts() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case alert := <-e.monitor.Alerts():
			e.logger.Warn("health alert", "symbol", alert.Symbol, "reason", alert.Reason, "score", alert.Snapshot.HealthScore)
			e.publishEvent(api.NewHealthEvent(alert.Symbol, alert.Snapshot))
		}
	}
}

func (e *Engine) raiseIncident(reason frames.Reason, symbol string, metadata map[string]string) {
	inc := frames.NewIncident(time.Now(), reason, symbol, metadata)
	e.incidents.Record(inc)
	e.logger.Error("incident", "reason", reason, "symbol", symbol)
	e.publishEvent(api.NewIncidentEvent(inc))
	e.exportBundle(inc)
}

func (e *Engine) raiseIncidentWithProof(symbol string, proof checksum.Proof) {
	inc := frames.NewIncident(time.Now(), frames.ReasonChecksumMismatch, symbol, map[string]string{
		"diagnosis": proof.Diagnosis,
	})
	e.incidents.Record(inc)
	e.logger.Error("checksum mismatch", "symbol", symbol, "diagnosis", proof.Diagnosis)
	e.publishEvent(api.NewIncidentEvent(inc))
	e.exportBundleWithProof(inc, proof)
}

// ExportManual raises a ManualExport incident on operator request,
// capturing the current frame window for symbol (or the global ring when
// symbol is empty). Implements api.Provider.
func (e *Engine) ExportManual(symbol string) frames.Incident {
	inc := frames.NewIncident(time.Now(), frames.ReasonManualExport, symbol, nil)
	e.incidents.Record(inc)
	e.logger.Info("manual export requested", "symbol", symbol)
	e.publishEvent(api.NewIncidentEvent(inc))
	e.exportBundle(inc)
	return inc
}

func (e *Engine) exportBundle(inc frames.Incident) {
	e.exportBundleWithProof(inc, checksum.Proof{})
}

func (e *Engine) exportBundleWithProof(inc frames.Incident, proof checksum.Proof) {
	ring := e.rings.Global
	if inc.Symbol != "" {
		ring = e.rings.Symbol(inc.Symbol)
	}

	var healthSnap interface{}
	if inc.Symbol != "" {
		healthSnap = e.health.Get(inc.Symbol).Snapshot(time.Now())
	}

	var instrument interface{}
	if inc.Symbol != "" {
		e.instrumentsMu.RLock()
		if pair, ok := e.instruments[inc.Symbol]; ok {
			instrument = pair
		}
		e.instrumentsMu.RUnlock()
	}

	var bookTop interface{}
	if inc.Symbol != "" {
		b := e.books.Get(inc.Symbol)
		if b.Seeded() {
			bookTop = struct {
				Bids []book.Level `json:"bids"`
				Asks []book.Level `json:"asks"`
			}{Bids: b.BidsRev(10), Asks: b.Asks(10)}
		}
	}

	var proofOut interface{}
	if proof.Symbol != "" {
		proofOut = proof
	}

	if err := os.MkdirAll(e.cfg.Health.BundleDir, 0o755); err != nil {
		e.logger.Error("failed to create bundle dir", "error", err)
		return
	}
	path := filepath.Join(e.cfg.Health.BundleDir, inc.ID+".zip")
	out, err := os.Create(path)
	if err != nil {
		e.logger.Error("failed to create bundle file", "path", path, "error", err)
		return
	}
	defer out.Close()

	err = frames.ExportBundle(out, frames.BundleInput{
		Incident:       inc,
		Config:         e.cfg,
		HealthSnapshot: healthSnap,
		Instrument:     instrument,
		BookTop:        bookTop,
		Proof:          proofOut,
		Ring:           ring,
	})
	if err != nil {
		e.logger.Error("failed to export incident bundle", "path", path, "error", err)
	}
}
