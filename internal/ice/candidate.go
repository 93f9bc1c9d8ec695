package ice

import (
	"encoding/base32"
	"fmt"
	"hash/fnv"
	"strings"
)

// Candidate is a local or remote ICE candidate. See RFC 8445 §5.3.
type Candidate struct {
	mid string // SDP media ID this candidate belongs to

	address    TransportAddress
	typ        string
	priority   uint32
	foundation string
	component  int
	attrs      []candidateAttr

	base *Base // nil for remote candidates from SDP; a peer-reflexive remote keeps the base it arrived on
}

type candidateAttr struct {
	name  string
	value string
}

// Candidate types this module gathers or accepts. relayType is declared
// for completeness of the priority table (RFC 8445 §5.1.2.1) but is never
// produced: this module gathers host candidates only and does not run a
// TURN client, per this module's non-goals.
const (
	hostType  = "host"
	srflxType = "srflx"
	prflxType = "prflx"
	relayType = "relay"
)

func makeHostCandidate(mid string, base *Base) Candidate {
	return Candidate{
		mid:        mid,
		address:    base.address,
		typ:        hostType,
		priority:   computePriority(hostType, base.component),
		foundation: computeFoundation(hostType, base.address, ""),
		component:  base.component,
		base:       base,
	}
}

func makePeerReflexiveCandidate(mid string, addr TransportAddress, base *Base, priority uint32) Candidate {
	c := Candidate{
		mid:        mid,
		address:    addr,
		typ:        prflxType,
		priority:   priority,
		foundation: computeFoundation(prflxType, addr, ""),
		component:  base.component,
		base:       base,
	}
	// RFC 5245 §15.1 requires raddr/rport on non-host candidates; some
	// browsers (Firefox) reject SDP lacking them.
	c.addAttribute("raddr", "0.0.0.0")
	c.addAttribute("rport", "0")
	return c
}

// computePriority implements RFC 8445 §5.1.2.1's recommended formula.
// local-preference is the same constant for every candidate, so host
// candidates gathered on different local addresses get equal priorities.
func computePriority(typ string, component int) uint32 {
	var typePref int
	switch typ {
	case hostType:
		typePref = 126
	case srflxType, prflxType:
		typePref = 110
	case relayType:
		typePref = 0
	}
	const localPref = 65535
	return uint32((typePref << 24) + (localPref << 8) + (256 - component))
}

// computeFoundation implements RFC 8445 §5.1.1.3: the foundation must be
// unique per (type, base IP, protocol, STUN/TURN server) tuple, stable
// across the life of the agent.
func computeFoundation(typ string, baseAddress TransportAddress, stunServer string) string {
	fingerprint := fmt.Sprintf("%s/%s/%s", typ, baseAddress.protocol, baseAddress.ip)
	if stunServer != "" {
		fingerprint += "/" + stunServer
	}
	hash := fnv.New64()
	hash.Write([]byte(fingerprint))
	return base32.StdEncoding.EncodeToString(hash.Sum(nil))[0:8]
}

func (c *Candidate) addAttribute(name, value string) {
	c.attrs = append(c.attrs, candidateAttr{name, value})
}

func (c *Candidate) isReflexive() bool {
	return c.typ == srflxType || c.typ == prflxType
}

// peerPriority computes the priority this candidate would have if
// reported as peer-reflexive, per RFC 8445 §7.2.5.3.1.
func (c *Candidate) peerPriority() uint32 {
	return computePriority(prflxType, c.component)
}

// SDPString renders this candidate as an a=candidate SDP attribute value
// (without the leading "a=candidate:" prefix word split), per
// draft-ietf-mmusic-ice-sip-sdp §4.1.
func (c *Candidate) SDPString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d %s %d typ %s",
		c.foundation, c.component, c.address.protocol, c.priority, c.address.ip, c.address.port, c.typ)
	for _, a := range c.attrs {
		fmt.Fprintf(&b, " %s %s", a.name, a.value)
	}
	return b.String()
}

func (c *Candidate) Mid() string { return c.mid }

func (c Candidate) String() string { return c.SDPString() }

// ParseCandidateSDP parses the value of an a=candidate attribute (without
// the "candidate:" prefix) into c. mid is not part of the attribute text
// and must be filled in by the caller.
func ParseCandidateSDP(value string, c *Candidate) error {
	fields := strings.Fields(value)
	if len(fields) < 8 || fields[6] != "typ" {
		return fmt.Errorf("ice: malformed candidate attribute: %q", value)
	}

	c.foundation = fields[0]
	if _, err := fmt.Sscanf(fields[1], "%d", &c.component); err != nil {
		return fmt.Errorf("ice: malformed candidate component: %q", fields[1])
	}
	if c.component < 1 || c.component > 256 {
		return fmt.Errorf("ice: candidate component out of range: %d", c.component)
	}
	protocol := fields[2]
	if _, err := fmt.Sscanf(fields[3], "%d", &c.priority); err != nil {
		return fmt.Errorf("ice: malformed candidate priority: %q", fields[3])
	}
	ip := fields[4]
	var port int
	if _, err := fmt.Sscanf(fields[5], "%d", &port); err != nil {
		return fmt.Errorf("ice: malformed candidate port: %q", fields[5])
	}
	c.typ = fields[7]

	addr, err := resolveAddr(protocol, fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return err
	}
	c.address = makeTransportAddress(addr)

	for i := 8; i+1 < len(fields); i += 2 {
		c.addAttribute(fields[i], fields[i+1])
	}
	return nil
}
