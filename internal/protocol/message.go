package protocol

// Message represents all WebSocket messages between clients and the server.
type Message struct {
	Type   string `json:"type" msgpack:"type"`
	RoomID string `json:"room_id,omitempty" msgpack:"room_id,omitempty"`

	// From is set by the server on every relayed message. Any value sent by a
	// client is overwritten.
	From string `json:"from,omitempty" msgpack:"from,omitempty"`

	// ParticipantID carries the subject of welcome, user_joined and peer_left.
	ParticipantID string `json:"participant_id,omitempty" msgpack:"participant_id,omitempty"`

	SDP       *SessionDescription `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty" msgpack:"candidate,omitempty"`

	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Message type constants.
const (
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"

	TypeWelcome    = "welcome"
	TypePeerReady  = "peer_ready"
	TypeUserJoined = "user_joined"
	TypePeerLeft   = "peer_left"
	TypeError      = "error"
)

// Error codes carried in Message.Error.
const (
	ErrCodeRoomFull      = "room_full"
	ErrCodeInvalidRoomID = "invalid_room_id"
)

// SessionDescription is an SDP offer or answer. The server never looks
// inside SDP.
type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// SDP types.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate mirrors the browser's RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// IsRelayed reports whether messages of this type are forwarded verbatim to
// the other room member.
func IsRelayed(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Clone returns a shallow copy safe to re-address to another recipient.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
