// Package service runs admission batches for the ingestion adapters and
// forwards the decisions to downstream consumers.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/verifier"
	"go.uber.org/zap"
)

var ErrEmptyBatch = errors.New("batch contains no reports")

// Verifier is the admission pass.
type Verifier interface {
	Verify(
		ctx context.Context,
		batchConfig uint64,
		reports iter.Seq[domain.PacketReport],
		valid verifier.PacketWriter[domain.ValidPacket],
		invalid verifier.PacketWriter[domain.InvalidPacket],
	) error
}

// Outputs are the downstream streams decisions are forwarded to. Either may
// be nil.
type Outputs struct {
	Valid   verifier.PacketWriter[domain.ValidPacket]
	Invalid verifier.PacketWriter[domain.InvalidPacket]
}

// BatchResult is the outcome of one admission batch.
type BatchResult struct {
	BatchID uuid.UUID
	Valid   []domain.ValidPacket
	Invalid []domain.InvalidPacket
}

type AdmissionService struct {
	verifier    Verifier
	outputs     Outputs
	batchConfig uint64
	log         *zap.Logger
}

func NewAdmissionService(v Verifier, outputs Outputs, batchConfig uint64, log *zap.Logger) *AdmissionService {
	return &AdmissionService{
		verifier:    v,
		outputs:     outputs,
		batchConfig: batchConfig,
		log:         log.Named("admission"),
	}
}

// ProcessBatch verifies the reports in order and returns every decision.
// Decisions are forwarded to the outputs after the batch completes; a failed
// forward is logged and does not undo the decision. Debits are durable as
// soon as they are made, so the batch runs to completion even when the
// caller goes away.
func (s *AdmissionService) ProcessBatch(ctx context.Context, reports []domain.PacketReport) (*BatchResult, error) {
	if len(reports) == 0 {
		return nil, ErrEmptyBatch
	}
	ctx = context.WithoutCancel(ctx)

	var (
		valid   verifier.Collector[domain.ValidPacket]
		invalid verifier.Collector[domain.InvalidPacket]
	)
	batchID := uuid.New()
	if err := s.verifier.Verify(ctx, s.batchConfig, slices.Values(reports), &valid, &invalid); err != nil {
		// Packets decided before the failure are already charged.
		s.forward(ctx, batchID, valid.Packets, invalid.Packets)
		return nil, fmt.Errorf("verify batch %s: %w", batchID, err)
	}

	s.forward(ctx, batchID, valid.Packets, invalid.Packets)
	s.log.Info("batch processed",
		zap.Stringer("batch_id", batchID),
		zap.Int("reports", len(reports)),
		zap.Int("valid", len(valid.Packets)),
		zap.Int("invalid", len(invalid.Packets)))

	return &BatchResult{
		BatchID: batchID,
		Valid:   valid.Packets,
		Invalid: invalid.Packets,
	}, nil
}

func (s *AdmissionService) forward(ctx context.Context, batchID uuid.UUID, valid []domain.ValidPacket, invalid []domain.InvalidPacket) {
	var failed int
	if s.outputs.Valid != nil {
		for _, p := range valid {
			if err := s.outputs.Valid.Write(ctx, p); err != nil {
				failed++
			}
		}
	}
	if s.outputs.Invalid != nil {
		for _, p := range invalid {
			if err := s.outputs.Invalid.Write(ctx, p); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		s.log.Warn("failed to forward decisions", zap.Stringer("batch_id", batchID), zap.Int("failed", failed))
	}
}
