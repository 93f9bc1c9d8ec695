package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mahina-labs/restreamer/internal/ice"
)

// This file layers the ICE/DTLS attribute set (draft-ietf-mmusic-ice-sip-sdp,
// RFC 8842, RFC 5576) on top of the generic Session/Media/Attribute model in
// sdp.go. It covers exactly the attributes a single sendonly H264 video
// m-line needs to negotiate ICE and DTLS-SRTP: ice-ufrag, ice-pwd,
// ice-options, candidates, end-of-candidates, fingerprint, setup, rtcp-mux,
// mid, group:BUNDLE, rtpmap, and ssrc/cname.

// Setup is the DTLS connection role offered or selected by a=setup (RFC
// 4145 / RFC 8842).
type Setup string

const (
	SetupActpass Setup = "actpass"
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
)

func (m *Media) addAttr(key, value string) {
	m.Attributes = append(m.Attributes, Attribute{Key: key, Value: value})
	m.attributeCache = nil
}

func (s *Session) addAttr(key, value string) {
	s.Attributes = append(s.Attributes, Attribute{Key: key, Value: value})
	s.attributeCache = nil
}

// IceUfrag and IcePwd are read from the media section if present, falling
// back to the session level per RFC 8839 §5.3.
func (s *Session) IceUfrag() string {
	if len(s.Media) > 0 {
		if v := s.Media[0].GetAttr("ice-ufrag"); v != "" {
			return v
		}
	}
	return s.GetAttr("ice-ufrag")
}

func (s *Session) IcePwd() string {
	if len(s.Media) > 0 {
		if v := s.Media[0].GetAttr("ice-pwd"); v != "" {
			return v
		}
	}
	return s.GetAttr("ice-pwd")
}

func (m *Media) SetIceCredentials(ufrag, pwd string) {
	m.addAttr("ice-ufrag", ufrag)
	m.addAttr("ice-pwd", pwd)
}

// IceOptions returns the space-separated ice-options tokens.
func (m *Media) IceOptions() []string {
	v := m.GetAttr("ice-options")
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

func (m *Media) SetIceOptions(options ...string) {
	m.addAttr("ice-options", strings.Join(options, " "))
}

// Fingerprint returns the parsed "algorithm hex" pair from this media
// section's a=fingerprint attribute, e.g. ("sha-256", "AA:BB:..."). ok is
// false if the attribute is absent or malformed.
func (m *Media) Fingerprint() (algorithm, hash string, ok bool) {
	return splitFingerprint(m.GetAttr("fingerprint"))
}

// Fingerprint returns the session-level a=fingerprint attribute. RFC 8842
// permits the attribute at either the session or media level; callers
// should check the media section first and fall back to this.
func (s *Session) Fingerprint() (algorithm, hash string, ok bool) {
	return splitFingerprint(s.GetAttr("fingerprint"))
}

func splitFingerprint(v string) (algorithm, hash string, ok bool) {
	fields := strings.SplitN(v, " ", 2)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func (m *Media) SetFingerprint(algorithm, hash string) {
	m.addAttr("fingerprint", algorithm+" "+hash)
}

func (m *Media) Setup() (Setup, bool) {
	v := m.GetAttr("setup")
	switch Setup(v) {
	case SetupActpass, SetupActive, SetupPassive:
		return Setup(v), true
	default:
		return "", false
	}
}

func (m *Media) SetSetup(s Setup) {
	m.addAttr("setup", string(s))
}

func (m *Media) Mid() string {
	return m.GetAttr("mid")
}

func (m *Media) SetMid(mid string) {
	m.addAttr("mid", mid)
}

func (s *Session) SetBundleGroup(mids ...string) {
	s.addAttr("group", "BUNDLE "+strings.Join(mids, " "))
}

// BundleGroup returns the mids listed in a=group:BUNDLE, if present.
func (s *Session) BundleGroup() []string {
	v := s.GetAttr("group")
	fields := strings.Fields(v)
	if len(fields) < 1 || fields[0] != "BUNDLE" {
		return nil
	}
	return fields[1:]
}

func (m *Media) HasRtcpMux() bool {
	for _, a := range m.Attributes {
		if a.Key == "rtcp-mux" {
			return true
		}
	}
	return false
}

func (m *Media) SetRtcpMux() {
	m.addAttr("rtcp-mux", "")
}

func (m *Media) SetSendonly() {
	m.addAttr("sendonly", "")
}

// Rtpmap describes one a=rtpmap line: payload type, encoding name, and
// clock rate (RFC 4566 §6).
type Rtpmap struct {
	PayloadType int
	EncodingName string
	ClockRate   int
}

func (r Rtpmap) String() string {
	return fmt.Sprintf("%d %s/%d", r.PayloadType, r.EncodingName, r.ClockRate)
}

func (m *Media) SetRtpmap(r Rtpmap) {
	m.addAttr("rtpmap", r.String())
}

// Rtpmap parses the first well-formed a=rtpmap attribute. Its payload type
// is not checked against m's format numbers.
func (m *Media) Rtpmap() (Rtpmap, bool) {
	for _, a := range m.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		var r Rtpmap
		var rate int
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		nameRate := strings.SplitN(fields[1], "/", 2)
		if len(nameRate) != 2 {
			continue
		}
		if rate, err = strconv.Atoi(nameRate[1]); err != nil {
			continue
		}
		r.PayloadType = pt
		r.EncodingName = nameRate[0]
		r.ClockRate = rate
		return r, true
	}
	return Rtpmap{}, false
}

// SetH264Fmtp adds an a=fmtp:<pt> line carrying H264FormatParameters'
// marshaled form (RFC 6184 §8.1).
func (m *Media) SetH264Fmtp(pt int, fmtp H264FormatParameters) {
	m.addAttr("fmtp", fmt.Sprintf("%d %s", pt, fmtp.Marshal()))
}

// H264Fmtp parses the first a=fmtp attribute for payload type pt.
func (m *Media) H264Fmtp(pt int) (H264FormatParameters, bool) {
	want := strconv.Itoa(pt)
	for _, a := range m.Attributes {
		if a.Key != "fmtp" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) != 2 || fields[0] != want {
			continue
		}
		var fmtp H264FormatParameters
		if err := fmtp.Unmarshal(fields[1]); err != nil {
			return H264FormatParameters{}, false
		}
		return fmtp, true
	}
	return H264FormatParameters{}, false
}

// SsrcCname is one a=ssrc:<n> cname:<c> line (RFC 5576 §4.1).
type SsrcCname struct {
	Ssrc  uint32
	Cname string
}

func (m *Media) SetSsrcCname(ssrc uint32, cname string) {
	m.addAttr("ssrc", fmt.Sprintf("%d cname:%s", ssrc, cname))
}

// SsrcCnames returns every a=ssrc:<n> cname:<c> line on this media section.
func (m *Media) SsrcCnames() []SsrcCname {
	var out []SsrcCname
	for _, a := range m.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		ssrc, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(fields[1], "cname:") {
			continue
		}
		cname := strings.TrimPrefix(fields[1], "cname:")
		out = append(out, SsrcCname{Ssrc: uint32(ssrc), Cname: cname})
	}
	return out
}

// AddCandidate appends an a=candidate attribute rendered from c.
func (m *Media) AddCandidate(c ice.Candidate) {
	m.addAttr("candidate", c.SDPString())
}

// Candidates parses every a=candidate attribute on this media section.
func (m *Media) Candidates() ([]ice.Candidate, error) {
	var out []ice.Candidate
	for _, a := range m.Attributes {
		if a.Key != "candidate" {
			continue
		}
		var c ice.Candidate
		if err := ice.ParseCandidateSDP(a.Value, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Media) HasEndOfCandidates() bool {
	for _, a := range m.Attributes {
		if a.Key == "end-of-candidates" {
			return true
		}
	}
	return false
}

func (m *Media) SetEndOfCandidates() {
	m.addAttr("end-of-candidates", "")
}
