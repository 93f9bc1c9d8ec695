// Package ice implements IceAgent: RFC 8445 host-candidate connectivity
// establishment between this process and a single browser peer.
//
// The teacher's pack held two independent, overlapping ICE
// implementations (one built around agent.go's single coordinating loop
// and ChannelConn, the other around checklist.go's own run() loop and a
// TransportAddress-keyed Base/DataStream model). This package
// consolidates them into one Agent with an explicit state machine,
// combining the first implementation's loop/ChannelConn shape with the
// second's checklist sort/prune/pairing logic and candidate model.
package ice

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mahina-labs/restreamer/internal/errs"
	"github.com/mahina-labs/restreamer/internal/stun"
)

// State is the IceAgent lifecycle per this module's connectivity design.
type State int

const (
	Gathering State = iota
	Checking
	Connected
	Completed
	Disconnected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Gathering:
		return "gathering"
	case Checking:
		return "checking"
	case Connected:
		return "connected"
	case Completed:
		return "completed"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	rtoInitial    = 500 * time.Millisecond
	rtoMax        = 1600 * time.Millisecond
	maxAttempts   = 7
	keepalivePeriod  = 15 * time.Second
	disconnectAfter  = 6 * time.Second
)

// Agent runs RFC 8445 connectivity checks for a single media component
// (video, with RTCP multiplexed onto the same component via
// a=rtcp-mux) against one remote peer.
type Agent struct {
	mid       string
	component int

	localUfrag, localPassword   string
	remoteUfrag, remotePassword string

	mu               sync.Mutex
	state            State
	bases            []*Base
	localCandidates  []Candidate
	remoteCandidates []Candidate
	checklist        checklist
	selected         *CandidatePair
	tiebreaker       uint64

	lastActivity time.Time
	conn         *ChannelConn

	stateCh chan State
	closeCh chan struct{}
}

// NewAgent creates an Agent for one media stream. tiebreaker should be a
// random value distinct per connection, used for RFC 8445 §7.1.3 role
// conflict resolution; this module always advertises itself as
// controlling, since it is the offerer (see PeerConnection.CreateOffer).
func NewAgent(mid string, component int, localUfrag, localPassword string, tiebreaker uint64) *Agent {
	return &Agent{
		mid:           mid,
		component:     component,
		localUfrag:    localUfrag,
		localPassword: localPassword,
		tiebreaker:    tiebreaker,
		checklist:     checklist{controlling: true},
		state:         Gathering,
		stateCh:       make(chan State, 1),
		closeCh:       make(chan struct{}),
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	select {
	case a.stateCh <- s:
	default:
		// Replace the unconsumed transition so the channel holds the latest.
		select {
		case <-a.stateCh:
		default:
		}
		select {
		case a.stateCh <- s:
		default:
		}
	}
	log.Info("ice[%s]: state -> %s", a.mid, s)
}

// GatherLocalCandidates binds one UDP socket per non-loopback IPv4
// address and returns the resulting host candidates. This module gathers
// host candidates only: no STUN server-reflexive lookups and no TURN
// relay allocation, per this module's non-goals.
func (a *Agent) GatherLocalCandidates() ([]Candidate, error) {
	ips, err := listLocalAddresses()
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4zero}
	}

	var candidates []Candidate
	for _, ip := range ips {
		base, err := createBase(ip, a.component)
		if err != nil {
			log.Warn("ice[%s]: skipping %s: %v", a.mid, ip, err)
			continue
		}
		a.bases = append(a.bases, base)
		c := makeHostCandidate(a.mid, base)
		a.localCandidates = append(a.localCandidates, c)
		candidates = append(candidates, c)
		go a.readLoop(base)
	}
	if len(a.bases) == 0 {
		return nil, errs.ErrSocketError
	}
	return candidates, nil
}

// SetRemoteCredentials records the remote ice-ufrag/ice-pwd from the
// answer.
func (a *Agent) SetRemoteCredentials(ufrag, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag, a.remotePassword = ufrag, password
}

// AddRemoteCandidate pairs c against every gathered local candidate and
// adds the resulting pairs to the checklist.
func (a *Agent) AddRemoteCandidate(c Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteCandidates = append(a.remoteCandidates, c)
	a.checklist.addCandidatePairs(a.localCandidates, []Candidate{c})
	if a.state == Gathering {
		a.state = Checking
	}
}

func (a *Agent) readLoop(base *Base) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := base.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-a.closeCh:
				return
			default:
			}
			log.Warn("ice[%s]: read error on %s: %v", a.mid, base.address, err)
			return
		}
		a.handlePacket(base, addr, append([]byte(nil), buf[:n]...))
	}
}

func (a *Agent) handlePacket(base *Base, from net.Addr, data []byte) {
	if stun.IsMessage(data) {
		a.handleStun(base, from, data)
		return
	}

	a.mu.Lock()
	selected := a.selected
	conn := a.conn
	a.mu.Unlock()
	if selected == nil || conn == nil {
		return
	}
	if makeTransportAddress(from) != selected.remote.address {
		return
	}
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
	conn.deliver(data)
}

func (a *Agent) handleStun(base *Base, from net.Addr, data []byte) {
	msg, err := stun.Parse(data)
	if err != nil {
		return
	}

	switch msg.Class {
	case stun.ClassRequest:
		a.handleStunRequest(base, from, msg)
	case stun.ClassSuccessResponse:
		a.handleStunResponse(base, from, msg)
	}
}

func (a *Agent) handleStunRequest(base *Base, from net.Addr, msg *stun.Message) {
	a.mu.Lock()
	password := a.localPassword
	a.mu.Unlock()

	if !msg.VerifyMessageIntegrity(password) {
		log.Warn("ice[%s]: dropping STUN request with bad MESSAGE-INTEGRITY", a.mid)
		return
	}

	resp := stun.NewBindingResponse(msg.TransactionID, from)
	resp.AddMessageIntegrity(password)
	resp.AddFingerprint()
	base.conn.WriteTo(resp.Bytes(), from)

	pair := a.findOrAdoptPair(base, from, msg.Priority())
	if pair == nil {
		return
	}

	a.mu.Lock()
	if pair.state != Succeeded {
		pair.state = Succeeded
	}
	if msg.HasUseCandidate() || a.checklist.controlling {
		a.nominate(pair)
	}
	a.mu.Unlock()
}

func (a *Agent) findOrAdoptPair(base *Base, from net.Addr, priority uint32) *CandidatePair {
	a.mu.Lock()
	defer a.mu.Unlock()

	remoteAddr := makeTransportAddress(from)
	for _, p := range a.checklist.pairs {
		if p.remote.address == remoteAddr && p.local.base == base {
			return p
		}
	}

	// Peer-reflexive candidate discovered via an unexpected request
	// (RFC 8445 §7.3.1.3): synthesize a remote candidate and pair it.
	remote := makePeerReflexiveCandidate(a.mid, remoteAddr, base, priority)
	a.remoteCandidates = append(a.remoteCandidates, remote)
	var local Candidate
	for _, l := range a.localCandidates {
		if l.base == base {
			local = l
			break
		}
	}
	a.checklist.nextPairID++
	pair := newCandidatePair(a.checklist.nextPairID, local, remote)
	pair.state = Waiting
	a.checklist.pairs = append(a.checklist.pairs, pair)
	return pair
}

func (a *Agent) handleStunResponse(base *Base, from net.Addr, msg *stun.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range a.checklist.pairs {
		if p.local.base != base || p.state != InProgress {
			continue
		}
		p.state = Succeeded
		if a.checklist.controlling {
			a.nominate(p)
		}
		return
	}
}

// nominate selects pair as the data channel and marks it nominated. It is
// called as soon as a check on pair has succeeded; no second Binding
// Request with USE-CANDIDATE is sent to confirm the nomination. The first
// pair nominated wins and later calls are no-ops. Caller must hold a.mu.
func (a *Agent) nominate(pair *CandidatePair) {
	if a.selected != nil {
		return
	}
	pair.nominated = true
	a.selected = pair
	a.conn = NewChannelConn(pair.local.base.address.netAddr(), pair.remote.address.netAddr(),
		func(b []byte, addr net.Addr) (int, error) { return pair.local.base.conn.WriteTo(b, addr) })
	a.lastActivity = time.Now()
	go a.setState(Connected)
}

// sendCheck sends (or retransmits) a Binding Request for pair.
func (a *Agent) sendCheck(pair *CandidatePair) {
	a.mu.Lock()
	req := stun.NewBindingRequest()
	req.SetUsername(a.remoteUfrag + ":" + a.localUfrag)
	req.SetPriority(pair.local.peerPriority())
	if a.checklist.controlling {
		req.SetIceControlling(a.tiebreaker)
		if pair.nominated || len(a.checklist.succeededPairs()) == 0 {
			req.SetUseCandidate()
		}
	} else {
		req.SetIceControlled(a.tiebreaker)
	}
	req.AddMessageIntegrity(a.remotePassword)
	req.AddFingerprint()
	pair.state = InProgress
	pair.attempts++
	pair.lastSent = time.Now().UnixNano()
	conn := pair.local.base.conn
	addr := pair.remote.address.netAddr()
	a.mu.Unlock()

	conn.WriteTo(req.Bytes(), addr)
}

// Run drives the checklist until the agent reaches Connected/Failed, then
// keeps sending keepalives and watching for silence on the selected pair
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	keepalive := time.NewTicker(keepalivePeriod)
	defer keepalive.Stop()

	a.mu.Lock()
	a.checklist.unfreeze()
	a.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeCh:
			return
		case <-ticker.C:
			a.tick()
		case <-keepalive.C:
			a.sendKeepalive()
		}
	}
}

func (a *Agent) tick() {
	a.mu.Lock()
	state := a.state
	var toCheck []*CandidatePair
	now := time.Now().UnixNano()
	for _, p := range a.checklist.pairs {
		switch p.state {
		case Waiting:
			toCheck = append(toCheck, p)
		case InProgress:
			rto := rtoInitial.Nanoseconds() << uint(p.attempts-1)
			if rto > rtoMax.Nanoseconds() {
				rto = rtoMax.Nanoseconds()
			}
			if now-p.lastSent < rto {
				continue
			}
			if p.attempts >= maxAttempts {
				p.state = Failed
				continue
			}
			toCheck = append(toCheck, p)
		}
	}

	disconnected := state == Connected && a.selected != nil && time.Since(a.lastActivity) > disconnectAfter
	allDone := a.checklist.done()
	a.mu.Unlock()

	for _, p := range toCheck {
		a.sendCheck(p)
	}

	if disconnected {
		a.setState(Disconnected)
	}
	if allDone && a.selected == nil {
		a.setState(Failed)
	}
}

func (a *Agent) sendKeepalive() {
	a.mu.Lock()
	pair := a.selected
	password := a.remotePassword
	a.mu.Unlock()
	if pair == nil {
		return
	}
	ind := stun.NewBindingIndication()
	ind.AddMessageIntegrity(password)
	ind.AddFingerprint()
	pair.local.base.conn.WriteTo(ind.Bytes(), pair.remote.address.netAddr())
}

// SelectedConn returns the net.Conn wired to the nominated candidate
// pair, or nil if none has been selected yet.
func (a *Agent) SelectedConn() net.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn
}

// StateChanges returns a channel of state transitions. It is buffered at
// 1 and only ever holds the most recent transition: a slow consumer sees
// the latest state, not a backlog.
func (a *Agent) StateChanges() <-chan State {
	return a.stateCh
}

func (a *Agent) Close() {
	a.mu.Lock()
	if a.state == Closed {
		a.mu.Unlock()
		return
	}
	a.state = Closed
	bases := a.bases
	a.mu.Unlock()

	close(a.closeCh)
	for _, b := range bases {
		b.Close()
	}
}
