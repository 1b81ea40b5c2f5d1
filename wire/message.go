// Package wire defines the on-the-wire Message envelope shared by the peer
// link and the hub link, and its length-prefixed CBOR framing (§6).
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/unicitynetwork/uce/node"
)

// Type discriminates the payload carried by a Message. The outermost type
// on the wire is always NetworkMessage; every other type travels inside one
// as its inner payload, or is itself wrapped a second time inside a
// BebBroadcast for best-effort delivery to every participant.
type Type string

const (
	TypeNetworkMessage Type = "NETWORK_MESSAGE"
	TypeBebBroadcast   Type = "BEB_BROADCAST"
	TypeEcNewEpoch     Type = "EC_NEW_EPOCH"
	TypeEcNack         Type = "EC_NACK"
	TypeEpRead         Type = "EP_READ"
	TypeEpState        Type = "EP_STATE"
	TypeEpWrite        Type = "EP_WRITE"
	TypeEpAccept       Type = "EP_ACCEPT"
	TypeEpDecided      Type = "EP_DECIDED"
	TypeEpfdHeartbeatRequest Type = "EPFD_HEARTBEAT_REQUEST"
	TypeEpfdHeartbeatReply   Type = "EPFD_HEARTBEAT_REPLY"
	TypeAppPropose      Type = "APP_PROPOSE"
	TypeAppDecide       Type = "APP_DECIDE"
	TypeAppRegistration Type = "APP_REGISTRATION"
)

// Message is the structured record every link exchanges. Payload is kept as
// raw CBOR so a single struct can carry any of the payload types above;
// Decode unmarshals it into the type the caller expects, chosen by
// switching on Type/AbstractionID.
type Message struct {
	_             struct{} `cbor:",toarray"`
	UUID          string
	SystemID      string
	AbstractionID string
	Type          Type
	Payload       cbor.RawMessage
}

// New builds a Message, generating a fresh UUID and marshaling payload into
// the raw CBOR field.
func New(systemID, abstractionID string, typ Type, payload any) (*Message, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Message{
		UUID:          uuid.NewString(),
		SystemID:      systemID,
		AbstractionID: abstractionID,
		Type:          typ,
		Payload:       raw,
	}, nil
}

// Decode unmarshals m's payload into target, a pointer to the struct that
// matches m.Type.
func (m *Message) Decode(target any) error {
	if err := cbor.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// --- payload types (§3) ---

// NetworkMessage is the outermost envelope: every Message that crosses a
// socket is itself wrapped in one of these, tagged with the sender's
// advertised listening address so the receiver's Perfect Link can identify
// it (§4.2).
type NetworkMessage struct {
	_                    struct{} `cbor:",toarray"`
	SenderHost           string
	SenderListeningPort  int32
	Message              *Message
}

type BebBroadcast struct {
	_       struct{} `cbor:",toarray"`
	Message *Message
}

type EcNewEpoch struct {
	_         struct{} `cbor:",toarray"`
	Timestamp uint64
}

type EcNack struct {
	_ struct{} `cbor:",toarray"`
}

type EpRead struct {
	_ struct{} `cbor:",toarray"`
}

type EpState struct {
	_     struct{} `cbor:",toarray"`
	Ts    uint64
	Value node.Value
}

type EpWrite struct {
	_     struct{} `cbor:",toarray"`
	Value node.Value
}

type EpAccept struct {
	_ struct{} `cbor:",toarray"`
}

type EpDecided struct {
	_     struct{} `cbor:",toarray"`
	Value node.Value
}

type EpfdHeartbeatRequest struct {
	_ struct{} `cbor:",toarray"`
}

type EpfdHeartbeatReply struct {
	_ struct{} `cbor:",toarray"`
}

type AppPropose struct {
	_         struct{} `cbor:",toarray"`
	Processes []node.ProcessID
	Value     node.Value
}

type AppDecide struct {
	_     struct{} `cbor:",toarray"`
	Value node.Value
}

type AppRegistration struct {
	_     struct{} `cbor:",toarray"`
	Index uint32
	Owner string
}
