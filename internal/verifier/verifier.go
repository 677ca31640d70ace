// Package verifier decides, packet by packet, whether metered traffic is
// admitted against the payer's prepaid balance.
package verifier

import (
	"context"
	"fmt"
	"iter"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"go.uber.org/zap"
)

var packetsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verifier_packets_total",
	Help: "Packet reports processed, labeled by outcome and invalid reason",
}, []string{"outcome", "reason"})

// Debiter is the balance-and-burn service: one call checks the balance,
// records the pending burn and applies the debit.
type Debiter interface {
	DebitIfSufficient(ctx context.Context, payer solana.PublicKey, cost uint64) (bool, error)
}

// OrgDirectory resolves payers and holds the admission flag of organizations.
type OrgDirectory interface {
	Payer(ctx context.Context, oui uint64) (solana.PublicKey, error)
	IsLocked(oui uint64) bool
	// LockOrg locks the organization at once; telling the remote directory
	// may complete later.
	LockOrg(oui uint64)
}

// PacketWriter receives one of the verifier's output streams.
type PacketWriter[T any] interface {
	Write(ctx context.Context, packet T) error
}

// Collector is a PacketWriter that keeps packets in memory.
type Collector[T any] struct {
	Packets []T
}

func (c *Collector[T]) Write(_ context.Context, packet T) error {
	c.Packets = append(c.Packets, packet)
	return nil
}

type Verifier struct {
	debiter Debiter
	orgs    OrgDirectory
	log     *zap.Logger
}

func New(debiter Debiter, orgs OrgDirectory, log *zap.Logger) *Verifier {
	return &Verifier{
		debiter: debiter,
		orgs:    orgs,
		log:     log.Named("verifier"),
	}
}

// batch is the state local to one admission pass.
type batch struct {
	payers map[uint64]solana.PublicKey
	// refused short-circuits every later report of an organization.
	refused map[uint64]domain.InvalidReason
}

// Verify admits or rejects every report in order, writing the outcome to
// valid or invalid. Join packets produce no output. batchConfig is an opaque
// per-batch value; it is logged with the batch and not otherwise used.
func (v *Verifier) Verify(
	ctx context.Context,
	batchConfig uint64,
	reports iter.Seq[domain.PacketReport],
	valid PacketWriter[domain.ValidPacket],
	invalid PacketWriter[domain.InvalidPacket],
) error {
	b := batch{
		payers:  make(map[uint64]solana.PublicKey),
		refused: make(map[uint64]domain.InvalidReason),
	}

	var admitted, rejected int
	for report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, emitted, err := v.verifyReport(ctx, &b, report, valid, invalid)
		if err != nil {
			return err
		}
		if !emitted {
			continue
		}
		if ok {
			admitted++
		} else {
			rejected++
		}
	}

	v.log.Debug("batch verified",
		zap.Uint64("batch_config", batchConfig),
		zap.Int("valid", admitted),
		zap.Int("invalid", rejected))
	return nil
}

// verifyReport handles one report. It returns whether the packet was valid
// and whether anything was written at all.
func (v *Verifier) verifyReport(
	ctx context.Context,
	b *batch,
	report domain.PacketReport,
	valid PacketWriter[domain.ValidPacket],
	invalid PacketWriter[domain.InvalidPacket],
) (bool, bool, error) {
	reject := func(reason domain.InvalidReason) (bool, bool, error) {
		packetsVerified.WithLabelValues("invalid", reason.String()).Inc()
		err := invalid.Write(ctx, domain.InvalidPacket{
			PayloadHash: report.PayloadHash,
			PayloadSize: report.PayloadSize,
			Reason:      reason,
			Gateway:     report.Gateway,
		})
		if err != nil {
			return false, false, fmt.Errorf("write invalid packet: %w", err)
		}
		return false, true, nil
	}
	accept := func(credits uint64) (bool, bool, error) {
		packetsVerified.WithLabelValues("valid", "").Inc()
		err := valid.Write(ctx, domain.ValidPacket{
			PayloadHash: report.PayloadHash,
			PayloadSize: report.PayloadSize,
			NumCredits:  uint32(credits),
			Timestamp:   uint64(report.ReceivedAt.UnixMilli()),
			Gateway:     report.Gateway,
		})
		if err != nil {
			return false, false, fmt.Errorf("write valid packet: %w", err)
		}
		return true, true, nil
	}

	switch report.Type {
	case domain.PacketTypeJoin:
		return false, false, nil
	case domain.PacketTypeUplink:
	default:
		return reject(domain.InvalidReasonMalformedReport)
	}

	if reason, refused := b.refused[report.OUI]; refused {
		return reject(reason)
	}

	payer, ok := b.payers[report.OUI]
	if !ok {
		var err error
		payer, err = v.orgs.Payer(ctx, report.OUI)
		if err != nil {
			v.log.Warn("failed to resolve organization payer", zap.Uint64("oui", report.OUI), zap.Error(err))
			b.refused[report.OUI] = domain.InvalidReasonUnknownOrg
			return reject(domain.InvalidReasonUnknownOrg)
		}
		b.payers[report.OUI] = payer
	}

	if v.orgs.IsLocked(report.OUI) {
		b.refused[report.OUI] = domain.InvalidReasonOrgLocked
		return reject(domain.InvalidReasonOrgLocked)
	}

	if report.Free {
		return accept(0)
	}

	cost := domain.PayloadSizeToCredits(uint64(report.PayloadSize))
	debited, err := v.debiter.DebitIfSufficient(ctx, payer, cost)
	if err != nil {
		v.log.Error("debit failed, rejecting packet",
			zap.Uint64("oui", report.OUI),
			zap.Stringer("payer", payer),
			zap.Uint64("cost", cost),
			zap.Error(err))
		b.refused[report.OUI] = domain.InvalidReasonDebitFailed
		return reject(domain.InvalidReasonDebitFailed)
	}
	if debited {
		return accept(cost)
	}

	b.refused[report.OUI] = domain.InvalidReasonInsufficientBalance
	v.orgs.LockOrg(report.OUI)
	return reject(domain.InvalidReasonInsufficientBalance)
}
