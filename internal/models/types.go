package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/packetverifier/internal/domain"
)

// PacketReport is one packet as posted by the packet router.
type PacketReport struct {
	OUI         uint64 `json:"oui"`
	NetID       uint32 `json:"net_id"`
	Timestamp   int64  `json:"timestamp"` // milliseconds since the Unix epoch
	PayloadSize uint32 `json:"payload_size"`
	PayloadHash []byte `json:"payload_hash"`
	PacketType  string `json:"packet_type"`
	Free        bool   `json:"free"`
	Gateway     string `json:"gateway,omitempty"`
}

// ToDomain converts the report. An unknown packet type is passed through as
// domain.PacketTypeUnknown and rejected by the verifier.
func (r PacketReport) ToDomain() domain.PacketReport {
	return domain.PacketReport{
		OUI:         r.OUI,
		NetID:       r.NetID,
		ReceivedAt:  time.UnixMilli(r.Timestamp).UTC(),
		PayloadSize: r.PayloadSize,
		PayloadHash: r.PayloadHash,
		Type:        domain.ParsePacketType(r.PacketType),
		Free:        r.Free,
		Gateway:     r.Gateway,
	}
}

// ReportBatchRequest is the payload of POST /api/v1/reports.
type ReportBatchRequest struct {
	Reports []PacketReport `json:"reports"`
}

const MaxBatchSize = 10000

func (r ReportBatchRequest) Validate() error {
	if len(r.Reports) == 0 {
		return errors.New("at least one report required")
	}
	if len(r.Reports) > MaxBatchSize {
		return fmt.Errorf("batch exceeds %d reports", MaxBatchSize)
	}
	return nil
}

// ReportBatchResponse carries both decision sequences of a batch.
type ReportBatchResponse struct {
	BatchID string                 `json:"batch_id"`
	Valid   []domain.ValidPacket   `json:"valid"`
	Invalid []domain.InvalidPacket `json:"invalid"`
}

// PayerAccount is the cached view of a payer.
type PayerAccount struct {
	Payer     string `json:"payer"`
	Balance   uint64 `json:"balance"`
	Burned    uint64 `json:"burned"`
	Available uint64 `json:"available"`
}

// Organization is the directory view of an organization.
type Organization struct {
	OUI    uint64 `json:"oui"`
	Payer  string `json:"payer"`
	Locked bool   `json:"locked"`
}
