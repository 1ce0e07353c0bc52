// Package wire defines the websocket message catalogue and packet codec for
// live game sessions.
//
// Every packet on the wire is a single flat JSON object carrying a numeric
// "msg" field plus arbitrary named payload fields. The most significant bit
// of the kind differentiates direction: clear for hub-to-client pushes, set
// for client-to-hub requests. The bit is a naming convention only; dispatch
// is always on the full numeric value.
//
// Kind values are stable contract surface. Both ends of a connection must be
// built against the same catalogue revision; renumbering a kind is a breaking
// protocol change.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Kind identifies a message in the session protocol catalogue.
type Kind uint16

const (
	// KindUnauthorized tells a client it requested something it may not do.
	KindUnauthorized Kind = 0x0103

	// KindPeerConnected announces a newly connected, authenticated peer.
	KindPeerConnected Kind = 0x0200
	// KindPeerDisconnected announces a peer leaving the session.
	KindPeerDisconnected Kind = 0x0201

	// KindTimerSync carries the current game time in milliseconds since the
	// session started. Clients use it to synchronize their own timers.
	KindTimerSync    Kind = 0x0300
	KindTimerSyncReq Kind = 0x8300

	// KindAllInfoReq asks the hub for every session data push at once,
	// usually sent once on client startup.
	KindAllInfoReq Kind = 0x830F

	KindPlayerInfoPush    Kind = 0x0301
	KindPlayerInfoReq     Kind = 0x8301
	KindCharacterInfoPush Kind = 0x0302
	KindCharacterInfoReq  Kind = 0x8302
	KindGameSpeedPush     Kind = 0x0303
	KindGameSpeedReq      Kind = 0x8303
	KindGraceTimePush     Kind = 0x0304
	KindGraceTimeReq      Kind = 0x8304

	KindPlayerInfoSet    Kind = 0x0311
	KindCharacterInfoSet Kind = 0x0312
	KindGameSpeedSet     Kind = 0x0313
	KindGraceTimeSet     Kind = 0x0314

	KindNewCharacterReq               Kind = 0x0315
	KindNewCharacterConfirm           Kind = 0x8315
	KindNewCharacterInvalidAttributes Kind = 0x03F1

	KindActionNotice     Kind = 0x0380
	KindFireAction       Kind = 0x8380
	KindActedTooEarly    Kind = 0x03F0
	KindActedWhilePaused Kind = 0x03F2

	KindPauseNotice  Kind = 0x0381
	KindFirePause    Kind = 0x8381
	KindResumeNotice Kind = 0x0382
	KindFireResume   Kind = 0x8382

	KindFireChatMessage Kind = 0x8400
	KindChatMessage     Kind = 0x0400

	// KindClientProtocolFault tells one client its last packet did not follow
	// the protocol. The connection stays open.
	KindClientProtocolFault Kind = 0x7FFF
	// KindServerProtocolFault is reserved for unrecoverable server-side
	// protocol errors.
	KindServerProtocolFault Kind = 0xFFFF
)

// ErrMalformed indicates bytes that do not parse as a packet envelope: not a
// JSON object, or missing a numeric "msg" field. It is distinct from a valid
// packet with an unknown kind, which decodes without error.
var ErrMalformed = errors.New("malformed packet")

// kindField is the envelope field carrying the numeric message kind.
const kindField = "msg"

// Packet is one decoded unit of protocol exchange. Fields beyond the kind
// are opaque payload; the codec does not validate their shape.
type Packet struct {
	Kind   Kind
	Fields map[string]any
}

// FromClient reports whether the kind's direction bit marks it as a
// client-to-hub message.
func (k Kind) FromClient() bool {
	return k&0x8000 != 0
}

// String returns the catalogue name for the kind.
func (k Kind) String() string {
	return Describe(k)
}

// Encode serializes a packet for the wire. Fields may be nil. The field name
// "msg" is reserved for the envelope.
func Encode(kind Kind, fields map[string]any) ([]byte, error) {
	envelope := make(map[string]any, len(fields)+1)
	for name, value := range fields {
		if name == kindField {
			return nil, fmt.Errorf("field name %q is reserved", kindField)
		}
		envelope[name] = value
	}
	envelope[kindField] = uint16(kind)

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes into a Packet.
//
// Bytes that are not a JSON object, or that carry no numeric "msg" field in
// the 16-bit range, fail with ErrMalformed. A well-formed envelope with a
// kind outside the catalogue decodes successfully; callers treat unknown
// kinds as forward-compatible no-ops.
func Decode(data []byte) (Packet, error) {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope == nil {
		return Packet{}, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}

	raw, ok := envelope[kindField]
	if !ok {
		return Packet{}, fmt.Errorf("%w: missing %q field", ErrMalformed, kindField)
	}
	number, ok := raw.(float64)
	if !ok {
		return Packet{}, fmt.Errorf("%w: non-numeric %q field", ErrMalformed, kindField)
	}
	if number != math.Trunc(number) || number < 0 || number > math.MaxUint16 {
		return Packet{}, fmt.Errorf("%w: %q out of range", ErrMalformed, kindField)
	}

	delete(envelope, kindField)
	if len(envelope) == 0 {
		envelope = nil
	}
	return Packet{Kind: Kind(number), Fields: envelope}, nil
}

// Describe returns the catalogue name for a kind. It is intended for logging
// and observability only, never for dispatch.
func Describe(kind Kind) string {
	switch kind {
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindPeerConnected:
		return "PEER_CONNECTED"
	case KindPeerDisconnected:
		return "PEER_DISCONNECTED"
	case KindTimerSync:
		return "TIMER_SYNC"
	case KindTimerSyncReq:
		return "TIMER_SYNC_REQ"
	case KindAllInfoReq:
		return "ALL_INFO_REQ"
	case KindPlayerInfoPush:
		return "PLAYER_INFO_PUSH"
	case KindPlayerInfoReq:
		return "PLAYER_INFO_REQ"
	case KindCharacterInfoPush:
		return "CHARACTER_INFO_PUSH"
	case KindCharacterInfoReq:
		return "CHARACTER_INFO_REQ"
	case KindGameSpeedPush:
		return "GAME_SPEED_PUSH"
	case KindGameSpeedReq:
		return "GAME_SPEED_REQ"
	case KindGraceTimePush:
		return "GRACE_TIME_PUSH"
	case KindGraceTimeReq:
		return "GRACE_TIME_REQ"
	case KindPlayerInfoSet:
		return "PLAYER_INFO_SET"
	case KindCharacterInfoSet:
		return "CHARACTER_INFO_SET"
	case KindGameSpeedSet:
		return "GAME_SPEED_SET"
	case KindGraceTimeSet:
		return "GRACE_TIME_SET"
	case KindNewCharacterReq:
		return "NEW_CHARACTER_REQ"
	case KindNewCharacterConfirm:
		return "NEW_CHARACTER_CONFIRM"
	case KindNewCharacterInvalidAttributes:
		return "NEW_CHARACTER_INVALID_ATTRIBUTES"
	case KindActionNotice:
		return "ACTION_NOTICE"
	case KindFireAction:
		return "FIRE_ACTION"
	case KindActedTooEarly:
		return "ACTED_TOO_EARLY"
	case KindActedWhilePaused:
		return "ACTED_WHILE_PAUSED"
	case KindPauseNotice:
		return "PAUSE_NOTICE"
	case KindFirePause:
		return "FIRE_PAUSE"
	case KindResumeNotice:
		return "RESUME_NOTICE"
	case KindFireResume:
		return "FIRE_RESUME"
	case KindFireChatMessage:
		return "FIRE_CHAT_MESSAGE"
	case KindChatMessage:
		return "CHAT_MESSAGE"
	case KindClientProtocolFault:
		return "CLIENT_PROTOCOL_FAULT"
	case KindServerProtocolFault:
		return "SERVER_PROTOCOL_FAULT"
	default:
		return "UNKNOWN_MESSAGE_TYPE"
	}
}

// Known reports whether the kind is part of the catalogue.
func Known(kind Kind) bool {
	return Describe(kind) != "UNKNOWN_MESSAGE_TYPE"
}
