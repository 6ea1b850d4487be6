package engine

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/protocol"
)

func toPion(desc *protocol.SessionDescription) (webrtc.SessionDescription, error) {
	if desc == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("missing session description")
	}

	typ := webrtc.NewSDPType(desc.Type)
	if typ == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

func fromPion(desc webrtc.SessionDescription) *protocol.SessionDescription {
	return &protocol.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func candidateToPion(c *protocol.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateFromPion(c webrtc.ICECandidateInit) *protocol.ICECandidate {
	return &protocol.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
