package ice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateSDPRoundTrip(t *testing.T) {
	base := &Base{address: TransportAddress{"udp", "192.168.1.5", 54400}, component: 1}
	c := makeHostCandidate("v", base)

	var parsed Candidate
	require.NoError(t, ParseCandidateSDP(c.SDPString(), &parsed))
	require.Equal(t, c.foundation, parsed.foundation)
	require.Equal(t, c.component, parsed.component)
	require.Equal(t, c.address, parsed.address)
	require.Equal(t, c.typ, parsed.typ)
}

func TestComputePriorityOrdering(t *testing.T) {
	require.True(t, computePriority(hostType, 1) > computePriority(srflxType, 1))
	require.True(t, computePriority(srflxType, 1) > computePriority(relayType, 1))
	require.True(t, computePriority(hostType, 1) > computePriority(hostType, 2))
}

func TestPairPriorityControllingVsControlled(t *testing.T) {
	local := Candidate{priority: 100}
	remote := Candidate{priority: 200}
	p := newCandidatePair(1, local, remote)

	// Per RFC 8445 §6.1.2.3 the formula is asymmetric in G/D, so swapping
	// which side is "controlling" changes the result unless priorities
	// happen to be equal.
	require.NotEqual(t, p.Priority(true), p.Priority(false))
}

func TestChecklistPairsAndPrunesRedundant(t *testing.T) {
	baseA := &Base{address: TransportAddress{"udp", "10.0.0.1", 1000}, component: 1}
	localA := makeHostCandidate("v", baseA)
	localB := localA
	localB.priority = localA.priority - 1 // lower-priority duplicate from the same base

	remote := Candidate{
		component: 1,
		address:   TransportAddress{"udp", "203.0.113.9", 2000},
	}

	cl := &checklist{controlling: true}
	cl.addCandidatePairs([]Candidate{localA, localB}, []Candidate{remote})

	// Same remote + same local base => redundant; only one pair survives.
	require.Len(t, cl.pairs, 1)
}

func TestChecklistSkipsMismatchedComponent(t *testing.T) {
	base := &Base{address: TransportAddress{"udp", "10.0.0.1", 1000}, component: 1}
	local := makeHostCandidate("v", base)
	remote := Candidate{component: 2, address: TransportAddress{"udp", "203.0.113.9", 2000}}

	cl := &checklist{controlling: true}
	cl.addCandidatePairs([]Candidate{local}, []Candidate{remote})
	require.Empty(t, cl.pairs)
}
