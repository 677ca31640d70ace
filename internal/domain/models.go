package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// BytesPerCredit is the number of payload bytes covered by one data credit.
const BytesPerCredit = 24

// PayloadSizeToCredits rounds a payload size up to whole credits.
func PayloadSizeToCredits(payloadSize uint64) uint64 {
	return (payloadSize + BytesPerCredit - 1) / BytesPerCredit
}

// PacketType is the kind of traffic a packet report describes.
type PacketType int

const (
	PacketTypeUnknown PacketType = iota
	PacketTypeUplink
	PacketTypeJoin
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeUplink:
		return "uplink"
	case PacketTypeJoin:
		return "join"
	default:
		return "unknown"
	}
}

// ParsePacketType maps the wire name of a packet type. Unrecognised names
// yield PacketTypeUnknown.
func ParsePacketType(s string) PacketType {
	switch s {
	case "uplink", "UPLINK":
		return PacketTypeUplink
	case "join", "JOIN":
		return PacketTypeJoin
	default:
		return PacketTypeUnknown
	}
}

// Org is an organization as known to the directory. Each org maps to exactly
// one payer; Locked gates admission for all of its packets.
type Org struct {
	OUI    uint64           `json:"oui"`
	Payer  solana.PublicKey `json:"payer"`
	Locked bool             `json:"locked"`
}

// PayerAccount is the locally cached view of a payer.
// Balance is the last replenished amount seen on chain, Burned the provisional
// debits that have not yet been retired by a confirmed burn.
type PayerAccount struct {
	Balance uint64 `json:"balance"`
	Burned  uint64 `json:"burned"`
}

// Available returns the credits that may still be debited.
func (a PayerAccount) Available() uint64 {
	if a.Burned >= a.Balance {
		return 0
	}
	return a.Balance - a.Burned
}

// PendingBurn is the durable, not yet settled total owed by a payer.
type PendingBurn struct {
	Payer    solana.PublicKey `json:"payer"`
	Amount   uint64           `json:"amount"`
	LastBurn time.Time        `json:"last_burn"`
}

// PendingTransaction is a burn submitted to the ledger whose confirmation has
// not been observed yet.
type PendingTransaction struct {
	Payer       solana.PublicKey `json:"payer"`
	Amount      uint64           `json:"amount"`
	Signature   solana.Signature `json:"signature"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// PacketReport is a single packet as reported by the packet router.
type PacketReport struct {
	OUI         uint64
	NetID       uint32
	ReceivedAt  time.Time
	PayloadSize uint32
	PayloadHash []byte
	Type        PacketType
	Free        bool
	Gateway     string
}

// InvalidReason explains why a packet was rejected.
type InvalidReason int

const (
	InvalidReasonInsufficientBalance InvalidReason = iota
	InvalidReasonOrgLocked
	InvalidReasonUnknownOrg
	InvalidReasonDebitFailed
	InvalidReasonMalformedReport
)

func (r InvalidReason) String() string {
	switch r {
	case InvalidReasonInsufficientBalance:
		return "insufficient_balance"
	case InvalidReasonOrgLocked:
		return "org_locked"
	case InvalidReasonUnknownOrg:
		return "unknown_org"
	case InvalidReasonDebitFailed:
		return "debit_failed"
	case InvalidReasonMalformedReport:
		return "malformed_report"
	default:
		return "unknown"
	}
}

// MarshalText lets reasons travel as readable strings.
func (r InvalidReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ValidPacket is an admitted packet. NumCredits is zero for free packets.
// Timestamp is in milliseconds since the Unix epoch.
type ValidPacket struct {
	PayloadHash []byte `json:"payload_hash"`
	PayloadSize uint32 `json:"payload_size"`
	NumCredits  uint32 `json:"num_credits"`
	Timestamp   uint64 `json:"timestamp"`
	Gateway     string `json:"gateway,omitempty"`
}

// InvalidPacket is a rejected packet.
type InvalidPacket struct {
	PayloadHash []byte        `json:"payload_hash"`
	PayloadSize uint32        `json:"payload_size"`
	Reason      InvalidReason `json:"reason"`
	Gateway     string        `json:"gateway,omitempty"`
}
