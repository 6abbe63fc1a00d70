// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loganrossus/loom/pkg/metrics"
)

// Common gossip errors.
var (
	ErrGossipNotRunning = errors.New("gossip is not running")
	ErrNoMembers        = errors.New("no mesh members available")
)

// GossipConfig holds configuration for the gossip protocol.
type GossipConfig struct {
	// NodeID is the unique identifier for this node. At most 63 bytes.
	NodeID string

	// BindAddr is the address to bind for gossip (IP only).
	BindAddr string

	// BindPort is the UDP port to bind for gossip.
	BindPort int

	// AdvertiseAddr is the address advertised to other nodes.
	AdvertiseAddr string

	// Seeds are host:port addresses of nodes to contact on startup.
	Seeds []string

	// TickInterval is the period of the protocol tick.
	TickInterval time.Duration

	// ProbeTimeout is how long a direct probe may go unanswered before
	// indirect probing starts.
	ProbeTimeout time.Duration

	// SuspectTimeout is how long a suspect stays suspect before it is
	// declared dead.
	SuspectTimeout time.Duration

	// IndirectProbes is the number of peers asked to probe indirectly.
	IndirectProbes int

	// SyncEvery is how many ticks pass between full roster syncs.
	SyncEvery int
}

// DefaultGossipConfig returns sensible defaults for gossip configuration.
func DefaultGossipConfig() *GossipConfig {
	return &GossipConfig{
		BindPort:       7946,
		TickInterval:   1 * time.Second,
		ProbeTimeout:   500 * time.Millisecond,
		SuspectTimeout: 5 * time.Second,
		IndirectProbes: 3,
		SyncEvery:      5,
	}
}

// pendingProbe tracks an in-flight liveness probe.
type pendingProbe struct {
	deadline time.Time
	indirect bool
}

// relayEntry remembers where to forward an ack obtained on another
// node's behalf. Entries expire if the target never answers.
type relayEntry struct {
	addr    *net.UDPAddr
	expires time.Time
}

// GossipStats is a point-in-time snapshot of protocol counters.
type GossipStats struct {
	MessagesSent     uint64 `json:"messagesSent"`
	MessagesReceived uint64 `json:"messagesReceived"`
	ProbesSent       uint64 `json:"probesSent"`
	AcksReceived     uint64 `json:"acksReceived"`
	SyncsSent        uint64 `json:"syncsSent"`
	NodesAlive       int    `json:"nodesAlive"`
	NodesSuspect     int    `json:"nodesSuspect"`
	NodesDead        int    `json:"nodesDead"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
}

// GossipManager runs the SWIM-style membership protocol over UDP.
// All protocol state is owned by the single run goroutine; the roster
// is separately locked so read paths stay cheap.
type GossipManager struct {
	config *GossipConfig
	logger *slog.Logger
	roster *roster

	mu        sync.RWMutex
	running   bool
	conn      *net.UDPConn
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// Protocol state, touched only by the run goroutine. Other
	// goroutines reach it through the commands channel.
	seq      uint32
	tickNum  uint64
	pending  map[string]*pendingProbe
	relayFor map[string]relayEntry
	commands chan func()

	// Counters, written by the run goroutine, read through Stats.
	sent   atomic.Uint64
	recvd  atomic.Uint64
	probes atomic.Uint64
	acks   atomic.Uint64
	syncs  atomic.Uint64

	// Callbacks
	onStateChange  func(StateChange)
	onLeaderClaim  func(Node)
	onTermObserved func(term uint64, fromID string)
	termProvider   func() uint64
}

// NewGossipManager creates a new GossipManager.
func NewGossipManager(cfg *GossipConfig, logger *slog.Logger) (*GossipManager, error) {
	if cfg == nil {
		cfg = DefaultGossipConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.NodeID == "" {
		return nil, errors.New("NodeID is required")
	}
	if len(cfg.NodeID) >= NodeIDSize {
		return nil, fmt.Errorf("NodeID exceeds %d bytes: %s", NodeIDSize-1, cfg.NodeID)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 1 * time.Second
	}
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout >= cfg.TickInterval {
		cfg.ProbeTimeout = cfg.TickInterval / 2
	}
	if cfg.SuspectTimeout <= 0 {
		cfg.SuspectTimeout = 5 * cfg.TickInterval
	}
	if cfg.IndirectProbes <= 0 {
		cfg.IndirectProbes = 3
	}
	if cfg.SyncEvery <= 0 {
		cfg.SyncEvery = 5
	}

	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.BindAddr
	}

	gm := &GossipManager{
		config: cfg,
		logger: logger.With("component", "gossip"),
		roster: newRoster(Node{
			ID:      cfg.NodeID,
			Address: advertise,
			Port:    uint16(cfg.BindPort),
		}, cfg.SuspectTimeout),
		pending:  make(map[string]*pendingProbe),
		relayFor: make(map[string]relayEntry),
		commands: make(chan func(), 16),
	}
	return gm, nil
}

// Start binds the UDP socket and starts the protocol loop.
func (g *GossipManager) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return errors.New("gossip manager already running")
	}

	addr := &net.UDPAddr{Port: g.config.BindPort}
	if g.config.BindAddr != "" {
		addr.IP = net.ParseIP(g.config.BindAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind gossip socket: %w", err)
	}
	g.conn = conn

	// The kernel may have assigned the port when BindPort was 0.
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		g.config.BindPort = local.Port
		g.roster.local.Port = uint16(local.Port)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true
	g.startTime = time.Now()

	g.logger.Info("gossip manager starting",
		"node_id", g.config.NodeID,
		"bind_port", g.config.BindPort,
		"seeds", len(g.config.Seeds),
	)

	for _, seed := range g.config.Seeds {
		g.addSeed(seed)
	}

	go g.run(runCtx)
	return nil
}

// addSeed inserts a roster placeholder for one configured seed address.
func (g *GossipManager) addSeed(seed string) {
	host, portStr, err := net.SplitHostPort(seed)
	if err != nil {
		g.logger.Warn("skipping malformed seed address", "seed", seed, "error", err)
		return
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port <= 0 || port > 65535 {
		g.logger.Warn("skipping seed with invalid port", "seed", seed)
		return
	}
	if host == g.roster.Local().Address && port == g.config.BindPort {
		return
	}
	g.roster.AddSeed(host, uint16(port))
}

// Stop leaves the mesh gracefully and shuts the protocol loop down.
func (g *GossipManager) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.logger.Info("gossip manager stopping")
	g.running = false
	cancel := g.cancel
	done := g.done
	g.mu.Unlock()

	// The run loop announces the departure on its way out so peers
	// skip the suspect window.
	g.roster.SetLocalState(StateLeft)

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.conn.Close()
	g.mu.Unlock()
	g.logger.Info("gossip manager stopped")
	return nil
}

// Port returns the bound UDP port, useful when BindPort was 0.
func (g *GossipManager) Port() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.BindPort
}

// IsRunning returns true if the gossip manager is running.
func (g *GossipManager) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Join adds seed addresses at runtime and announces this node to them
// immediately, so members do not wait out a sync interval.
func (g *GossipManager) Join(addresses []string) error {
	g.mu.RLock()
	running := g.running
	g.mu.RUnlock()
	if !running {
		return ErrGossipNotRunning
	}
	for _, addr := range addresses {
		g.addSeed(addr)
	}
	g.enqueue(g.joinPeers)
	return nil
}

// enqueue hands fn to the run goroutine, which owns the socket and the
// protocol sequence. Safe to call before Start; the command runs once
// the loop is up.
func (g *GossipManager) enqueue(fn func()) {
	select {
	case g.commands <- fn:
	default:
		g.logger.Debug("gossip command queue full, dropping command")
	}
}

// Members returns a snapshot of all roster entries.
func (g *GossipManager) Members() []Node {
	return g.roster.Snapshot()
}

// AliveMembers returns all alive roster entries, local included.
func (g *GossipManager) AliveMembers() []Node {
	return g.roster.AliveNodes()
}

// NumAlive counts alive members, local included.
func (g *GossipManager) NumAlive() int {
	return g.roster.AliveCount()
}

// LocalNode returns a copy of the local roster entry.
func (g *GossipManager) LocalNode() Node {
	return g.roster.Local()
}

// Leader returns the known leader, if any.
func (g *GossipManager) Leader() (Node, bool) {
	return g.roster.Leader()
}

// ClaimLeadership marks the local node leader and announces it.
func (g *GossipManager) ClaimLeadership() {
	g.roster.SetLocalLeader(true)
	g.roster.ClearLeader(g.config.NodeID)
	g.enqueue(g.broadcastSync)
}

// YieldLeadership drops the local leadership claim.
func (g *GossipManager) YieldLeadership() {
	g.roster.SetLocalLeader(false)
	g.enqueue(g.broadcastSync)
}

// OnNodeStateChange sets the callback invoked on roster transitions.
func (g *GossipManager) OnNodeStateChange(fn func(StateChange)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onStateChange = fn
}

// OnLeaderClaim sets the callback invoked when a peer claims leadership.
func (g *GossipManager) OnLeaderClaim(fn func(Node)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLeaderClaim = fn
}

// OnTermObserved sets the callback invoked when a peer's election term
// arrives piggybacked on an ack.
func (g *GossipManager) OnTermObserved(fn func(term uint64, fromID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTermObserved = fn
}

// SetTermProvider sets the source of the local election term, sent
// piggybacked in every ack.
func (g *GossipManager) SetTermProvider(fn func() uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.termProvider = fn
}

// Stats returns a snapshot of protocol counters.
func (g *GossipManager) Stats() GossipStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GossipStats{
		MessagesSent:     g.sent.Load(),
		MessagesReceived: g.recvd.Load(),
		ProbesSent:       g.probes.Load(),
		AcksReceived:     g.acks.Load(),
		SyncsSent:        g.syncs.Load(),
	}
	if g.running {
		stats.UptimeSeconds = int64(time.Since(g.startTime).Seconds())
	}
	for _, n := range g.roster.Snapshot() {
		switch n.State {
		case StateAlive:
			stats.NodesAlive++
		case StateSuspect:
			stats.NodesSuspect++
		case StateDead:
			stats.NodesDead++
		}
	}
	return stats
}

// run is the protocol loop. Reads use short deadlines so ticks stay on
// schedule without a second goroutine touching protocol state.
func (g *GossipManager) run(ctx context.Context) {
	defer close(g.done)
	// Final sync carries the Left state Stop sets, announcing the
	// departure before the socket closes.
	defer g.broadcastSync()

	ticker := time.NewTicker(g.config.TickInterval)
	defer ticker.Stop()

	g.joinPeers()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick()
		case fn := <-g.commands:
			fn()
		default:
		}

		g.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, from, err := g.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			g.logger.Debug("gossip read error", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		g.handleDatagram(data, from)
	}
}

// tick runs one protocol round.
func (g *GossipManager) tick() {
	g.tickNum++
	now := time.Now()

	// Suspicion and death are driven by silence since last contact,
	// not by individual probe failures.
	for _, change := range g.roster.Sweep(now) {
		switch change.NewState {
		case StateSuspect:
			g.logger.Warn("node suspected", "node_id", change.Node.ID)
		case StateDead:
			g.logger.Info("node declared dead",
				"node_id", change.Node.ID,
				"incarnation", change.Node.Incarnation,
			)
		}
		g.dispatchStateChange(change)
	}

	// Resolve probes from the previous round.
	for id, p := range g.pending {
		if now.Before(p.deadline) {
			continue
		}
		if !p.indirect {
			// Direct probe timed out; ask peers to try.
			g.sendIndirectProbes(id)
			p.indirect = true
			p.deadline = now.Add(g.config.ProbeTimeout)
			continue
		}
		delete(g.pending, id)
		metrics.GossipProbes.WithLabelValues("failed").Inc()
	}

	for id, e := range g.relayFor {
		if now.After(e.expires) {
			delete(g.relayFor, id)
		}
	}

	g.probeRandomPeer(now)

	if g.tickNum%uint64(g.config.SyncEvery) == 0 {
		g.broadcastSync()
	}

	g.updateNodeGauges()
}

func (g *GossipManager) updateNodeGauges() {
	stats := map[NodeState]int{}
	for _, n := range g.roster.Snapshot() {
		stats[n.State]++
	}
	for _, s := range []NodeState{StateAlive, StateSuspect, StateDead, StateLeft} {
		metrics.GossipNodes.WithLabelValues(s.String()).Set(float64(stats[s]))
	}
}

func (g *GossipManager) probeRandomPeer(now time.Time) {
	exclude := make(map[string]bool, len(g.pending))
	for id := range g.pending {
		exclude[id] = true
	}
	peers := g.roster.RandomPeers(1, exclude, StateAlive, StateSuspect)
	if len(peers) == 0 {
		return
	}
	target := peers[0]

	ping := &Ping{
		Header:   g.header(),
		TargetID: target.ID,
	}
	g.sendTo(ping.Encode(), target.Addr(), MsgPing)
	g.probes.Add(1)
	g.pending[target.ID] = &pendingProbe{deadline: now.Add(g.config.ProbeTimeout)}
}

func (g *GossipManager) sendIndirectProbes(targetID string) {
	target, ok := g.roster.Lookup(targetID)
	if !ok {
		return
	}
	exclude := map[string]bool{targetID: true}
	relays := g.roster.RandomPeers(g.config.IndirectProbes, exclude, StateAlive)
	for _, relay := range relays {
		req := &PingReq{
			Header:   g.header(),
			TargetID: target.ID,
			SourceID: g.config.NodeID,
		}
		g.sendTo(req.Encode(), relay.Addr(), MsgPingReq)
	}
}

// encodeSync renders the current roster as one sync datagram.
func (g *GossipManager) encodeSync() ([]byte, bool) {
	entries := g.roster.SyncEntries(MaxSyncEntries)
	sync := &Sync{Header: g.header(), Nodes: entries}
	data, err := sync.Encode()
	if err != nil {
		g.logger.Error("failed to encode sync", "error", err, "entries", len(entries))
		return nil, false
	}
	return data, true
}

// broadcastSync pushes the roster to a handful of random alive peers.
func (g *GossipManager) broadcastSync() {
	peers := g.roster.RandomPeers(g.config.IndirectProbes, nil, StateAlive)
	if len(peers) == 0 {
		return
	}
	data, ok := g.encodeSync()
	if !ok {
		return
	}
	for _, peer := range peers {
		g.sendTo(data, peer.Addr(), MsgSync)
	}
	g.syncs.Add(1)
}

// sendSyncTo pushes the roster to one peer address.
func (g *GossipManager) sendSyncTo(addr string) {
	data, ok := g.encodeSync()
	if !ok {
		return
	}
	g.sendTo(data, addr, MsgSync)
	g.syncs.Add(1)
}

// joinPeers announces this node to every known peer with a ping and a
// roster sync. Run on startup and after Join, it bootstraps
// convergence instead of waiting for the periodic sync.
func (g *GossipManager) joinPeers() {
	for _, peer := range g.roster.Snapshot() {
		if peer.IsLocal {
			continue
		}
		ping := &Ping{Header: g.header(), TargetID: peer.ID}
		g.sendTo(ping.Encode(), peer.Addr(), MsgPing)
		g.sendSyncTo(peer.Addr())
	}
}

func (g *GossipManager) header() Header {
	g.seq++
	return Header{
		Version:     ProtocolVersion,
		Seq:         g.seq,
		SenderID:    g.config.NodeID,
		Incarnation: g.roster.LocalIncarnation(),
	}
}

func (g *GossipManager) sendTo(data []byte, addr string, t MessageType) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		g.logger.Debug("unresolvable peer address", "addr", addr, "error", err)
		return
	}
	if _, err := g.conn.WriteToUDP(data, udpAddr); err != nil {
		g.logger.Debug("gossip send failed", "addr", addr, "error", err)
		return
	}
	g.sent.Add(1)
	metrics.GossipMessagesSent.WithLabelValues(t.String()).Inc()
}

func (g *GossipManager) handleDatagram(data []byte, from *net.UDPAddr) {
	msg, err := Decode(data)
	if err != nil {
		g.logger.Debug("dropping undecodable datagram",
			"from", from.String(),
			"error", err,
		)
		return
	}
	g.recvd.Add(1)
	g.handleMessage(msg, from)
}

func (g *GossipManager) handleMessage(msg any, from *net.UDPAddr) {
	switch m := msg.(type) {
	case *Ping:
		metrics.GossipMessagesReceived.WithLabelValues("ping").Inc()
		g.noteSender(m.Header, from)
		// The ack names the probed node, so relayed acks still clear
		// the right pending probe at the original prober.
		g.sendAck(m.TargetID, from)

	case *PingReq:
		metrics.GossipMessagesReceived.WithLabelValues("ping_req").Inc()
		g.noteSender(m.Header, from)
		g.handlePingReq(m, from)

	case *Ack:
		metrics.GossipMessagesReceived.WithLabelValues("ack").Inc()
		g.handleAck(m, from)

	case *Sync:
		metrics.GossipMessagesReceived.WithLabelValues("sync").Inc()
		g.noteSender(m.Header, from)
		g.handleSync(m)

	case *Compound:
		metrics.GossipMessagesReceived.WithLabelValues("compound").Inc()
		for _, sub := range m.Messages {
			inner, err := Decode(sub)
			if err != nil {
				g.logger.Debug("dropping undecodable compound part", "error", err)
				continue
			}
			g.handleMessage(inner, from)
		}
	}
}

// noteSender folds the message header into the roster so first contact
// from an unknown peer registers it. New peers are greeted with a full
// roster sync, which is what spreads membership during a join.
func (g *GossipManager) noteSender(h Header, from *net.UDPAddr) {
	if h.SenderID == g.config.NodeID {
		return
	}
	_, known := g.roster.Lookup(h.SenderID)
	change, _ := g.roster.Apply(NodeUpdate{
		ID:          h.SenderID,
		Address:     from.IP.String(),
		Port:        uint16(from.Port),
		State:       StateAlive,
		Incarnation: h.Incarnation,
	})
	if change != nil {
		g.dispatchStateChange(*change)
	}
	if c := g.roster.MarkContact(h.SenderID, h.Incarnation); c != nil {
		g.dispatchStateChange(*c)
	}
	if !known {
		g.sendSyncTo(from.String())
	}
}

func (g *GossipManager) sendAck(targetID string, to *net.UDPAddr) {
	ack := &Ack{
		Header:   g.header(),
		TargetID: targetID,
		Payload:  g.termPayload(),
	}
	data, err := ack.Encode()
	if err != nil {
		g.logger.Error("failed to encode ack", "error", err)
		return
	}
	if _, err := g.conn.WriteToUDP(data, to); err != nil {
		g.logger.Debug("ack send failed", "addr", to.String(), "error", err)
		return
	}
	g.sent.Add(1)
	metrics.GossipMessagesSent.WithLabelValues("ack").Inc()
}

// termPayload renders the local election term as 8 little-endian bytes.
func (g *GossipManager) termPayload() []byte {
	g.mu.RLock()
	provider := g.termProvider
	g.mu.RUnlock()
	if provider == nil {
		return nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, provider())
	return buf
}

func (g *GossipManager) handlePingReq(m *PingReq, from *net.UDPAddr) {
	target, ok := g.roster.Lookup(m.TargetID)
	if !ok {
		return
	}
	// Remember who to relay the ack to.
	g.relayFor[m.TargetID] = relayEntry{
		addr:    from,
		expires: time.Now().Add(g.config.TickInterval),
	}

	ping := &Ping{Header: g.header(), TargetID: m.TargetID}
	g.sendTo(ping.Encode(), target.Addr(), MsgPing)
}

func (g *GossipManager) handleAck(m *Ack, from *net.UDPAddr) {
	g.acks.Add(1)
	g.noteSender(m.Header, from)

	// TargetID names the probed node: for a relayed ack that is the
	// original target, not the relay that forwarded it. A datagram
	// from the sender also proves the sender alive.
	for _, id := range []string{m.TargetID, m.SenderID} {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			metrics.GossipProbes.WithLabelValues("ok").Inc()
		}
	}
	if c := g.roster.MarkContact(m.TargetID, 0); c != nil {
		g.dispatchStateChange(*c)
	}

	// Relay acks for indirect probes we performed on someone's behalf.
	if entry, ok := g.relayFor[m.TargetID]; ok {
		delete(g.relayFor, m.TargetID)
		g.sendAck(m.TargetID, entry.addr)
	}

	if len(m.Payload) >= 8 {
		term := binary.LittleEndian.Uint64(m.Payload[:8])
		g.mu.RLock()
		fn := g.onTermObserved
		g.mu.RUnlock()
		if fn != nil {
			fn(term, m.SenderID)
		}
	}
}

func (g *GossipManager) handleSync(m *Sync) {
	var refuted bool
	for _, u := range m.Nodes {
		_, known := g.roster.Lookup(u.ID)
		change, refute := g.roster.Apply(u)
		if refute {
			refuted = true
			continue
		}
		if change != nil {
			g.dispatchStateChange(*change)
		}
		// Introduce ourselves to nodes we just learned about, so a
		// joining mesh converges without waiting for periodic syncs.
		if !known && u.State == StateAlive && u.ID != g.config.NodeID {
			if node, ok := g.roster.Lookup(u.ID); ok {
				ping := &Ping{Header: g.header(), TargetID: node.ID}
				g.sendTo(ping.Encode(), node.Addr(), MsgPing)
			}
		}
		if u.IsLeader && u.ID != g.config.NodeID {
			g.roster.ClearLeader(u.ID)
			if node, ok := g.roster.Lookup(u.ID); ok {
				g.dispatchLeaderClaim(node)
			}
		}
	}
	if refuted {
		inc := g.roster.BumpLocalIncarnation()
		g.logger.Info("refuting stale rumor about self", "incarnation", inc)
		g.broadcastSync()
	}
}

func (g *GossipManager) dispatchStateChange(change StateChange) {
	g.mu.RLock()
	fn := g.onStateChange
	g.mu.RUnlock()
	if fn != nil {
		fn(change)
	}
}

func (g *GossipManager) dispatchLeaderClaim(node Node) {
	g.mu.RLock()
	fn := g.onLeaderClaim
	g.mu.RUnlock()
	if fn != nil {
		fn(node)
	}
}
