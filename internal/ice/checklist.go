package ice

import (
	"net"
	"sort"
)

// checklist holds the candidate pairs formed between this agent's local
// candidates and the remote peer's candidates, in RFC 8445 §6.1.2
// priority order, pruned of redundant pairs.
type checklist struct {
	pairs       []*CandidatePair
	nextPairID  int
	controlling bool
}

// addCandidatePairs pairs every local candidate against every remote
// candidate (subject to canBePaired), appends any new pairs, then
// re-sorts and re-prunes the whole checklist.
func (cl *checklist) addCandidatePairs(locals, remotes []Candidate) {
	for _, l := range locals {
		for _, r := range remotes {
			if !canBePaired(l, r) {
				continue
			}
			cl.nextPairID++
			cl.pairs = append(cl.pairs, newCandidatePair(cl.nextPairID, l, r))
		}
	}
	cl.sortAndPrune()
}

// canBePaired implements RFC 8445 §6.1.2.2: candidates pair only when
// they share a component and an address family, and a local host
// candidate must not be paired with a link-local remote address (and
// vice versa is moot here since this module never gathers link-local
// local candidates).
func canBePaired(local, remote Candidate) bool {
	if local.component != remote.component {
		return false
	}
	if local.address.protocol != remote.address.protocol {
		return false
	}
	localIsV6 := isIPv6(local.address.ip)
	remoteIsV6 := isIPv6(remote.address.ip)
	if localIsV6 != remoteIsV6 {
		return false
	}
	return net.ParseIP(local.address.ip).IsLinkLocalUnicast() == net.ParseIP(remote.address.ip).IsLinkLocalUnicast()
}

func isIPv6(ip string) bool {
	for _, c := range ip {
		if c == ':' {
			return true
		}
	}
	return false
}

// sortAndPrune implements RFC 8445 §6.1.2.3 (priority-descending sort)
// and §6.1.2.4 (redundant-pair pruning): when two pairs have the same
// remote address and the same local candidate base, the lower-priority
// one is redundant and dropped, unless it has already left the Frozen
// state (draft-ietf-ice-trickle-21 §10: a pair an agent has already
// started checking must not be discarded out from under it).
func (cl *checklist) sortAndPrune() {
	sort.SliceStable(cl.pairs, func(i, j int) bool {
		return cl.pairs[i].Priority(cl.controlling) > cl.pairs[j].Priority(cl.controlling)
	})

	kept := cl.pairs[:0]
	for _, p := range cl.pairs {
		if redundant := cl.findRedundant(kept, p); redundant != nil {
			if p.state == Frozen {
				continue
			}
		}
		kept = append(kept, p)
	}
	cl.pairs = kept
}

func (cl *checklist) findRedundant(kept []*CandidatePair, p *CandidatePair) *CandidatePair {
	for _, k := range kept {
		if isRedundant(k, p) {
			return k
		}
	}
	return nil
}

// isRedundant reports whether a and b have the same remote address and
// the same local candidate base (RFC 8445 §6.1.2.4).
func isRedundant(a, b *CandidatePair) bool {
	return a.remote.address == b.remote.address && a.local.base == b.local.base
}

// unfreeze promotes every still-Frozen pair to Waiting. This module does
// not implement the full multi-stream freeze/unfreeze coordination of
// RFC 8445 §6.1.2.6 (foundation-grouped unfreezing across components):
// PeerConnection runs exactly one ICE component (RTP, with RTCP
// multiplexed onto it via a=rtcp-mux), so there is only ever one
// checklist to schedule and nothing to coordinate against.
func (cl *checklist) unfreeze() {
	for _, p := range cl.pairs {
		if p.state == Frozen {
			p.state = Waiting
		}
	}
}

// nextWaiting returns the highest-priority Waiting pair, or nil if none.
func (cl *checklist) nextWaiting() *CandidatePair {
	for _, p := range cl.pairs {
		if p.state == Waiting {
			return p
		}
	}
	return nil
}

// done reports whether every pair has left Waiting/InProgress/Frozen.
func (cl *checklist) done() bool {
	for _, p := range cl.pairs {
		if p.state == Waiting || p.state == InProgress || p.state == Frozen {
			return false
		}
	}
	return true
}

// succeededPairs returns all Succeeded pairs in priority order (the
// order cl.pairs is already kept in).
func (cl *checklist) succeededPairs() []*CandidatePair {
	var out []*CandidatePair
	for _, p := range cl.pairs {
		if p.state == Succeeded {
			out = append(out, p)
		}
	}
	return out
}
