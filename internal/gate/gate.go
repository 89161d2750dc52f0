// Package gate implements the Ordering Gate of spec.md §4.5: the webhook
// ingress pipeline every inbound provider event passes through before it
// is allowed to dispatch an MSM event.
package gate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/pkg/merr"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Event is a normalized inbound webhook event, already JSON-decoded by the
// caller (internal/httpapi), before any guard has run.
type Event struct {
	InternalEventID string // assigned on receipt, before any guard
	ProviderEventID string
	Type            string
	Livemode        bool
	RawBody         []byte
	Signature       string
	TaskID          string
	OwnerID         string
	Currency        string
	AmountCents     int64
	Metadata        map[string]any
	ReceivedAt      time.Time
}

// ReplayStore dedups by provider event ID (the Replay Guard).
type ReplayStore interface {
	SeenAndRecord(ctx context.Context, providerEventID string) (alreadySeen bool, err error)
}

// HeadStore answers each owner's current event timestamp head, for the
// Temporal Guard (spec.md invariant 6, §4.3 "monotonic causality").
type HeadStore interface {
	Head(ctx context.Context, ownerID string) (time.Time, bool, error)
	AdvanceHead(ctx context.Context, ownerID string, ts time.Time) error
}

// Dispatcher forwards a guard-passed event to the MSM/saga layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Config holds the gate's static policy: the HMAC secret, the
// environment's livemode class, and the accepted event type allow-list.
type Config struct {
	HMACSecret       string
	Livemode         bool
	AllowedTypes     map[string]bool
	LateArrivalAfter time.Duration // default 10 minutes
}

// Gate runs the seven ordered guards of spec.md §4.5.
type Gate struct {
	Config     Config
	KillSwitch *killswitch.Switch
	Replay     ReplayStore
	Heads      HeadStore
	Dispatcher Dispatcher
	Logger     mlog.Logger
}

// dropped is returned by guards that want the event silently dropped
// (200 OK to the provider) rather than surfaced as an error.
type dropped struct{ reason string }

func (d *dropped) Error() string { return "gate: dropped: " + d.reason }

// IsDropped reports whether err means "drop with 200 OK", as opposed to a
// signature failure (400) or an unexpected internal error (500).
func IsDropped(err error) bool {
	_, ok := err.(*dropped)
	return ok
}

// Ingest runs ev through every guard in order and, if all pass, dispatches
// it. Signature mismatches return a plain error (caller maps to 400); every
// other rejection returns a *dropped error (caller maps to 200 OK).
func (g *Gate) Ingest(ctx context.Context, ev Event) error {
	// 1. Kill-Switch Gate.
	if g.KillSwitch.Tripped() {
		return &dropped{reason: "kill switch active"}
	}

	// 2. Source Guard.
	if !verifyHMAC(g.Config.HMACSecret, ev.RawBody, ev.Signature) {
		return merr.Wrap(merr.ErrSignatureMismatch, "SIGNATURE_MISMATCH", "webhook signature does not match")
	}

	if ev.Livemode != g.Config.Livemode {
		return merr.Wrap(merr.ErrSignatureMismatch, "LIVEMODE_MISMATCH",
			"event livemode=%v does not match process environment class livemode=%v", ev.Livemode, g.Config.Livemode)
	}

	// 3. Replay Guard.
	seen, err := g.Replay.SeenAndRecord(ctx, ev.ProviderEventID)
	if err != nil {
		return err
	}

	if seen {
		return &dropped{reason: "duplicate provider event id"}
	}

	// 4. Settlement Guard.
	if !g.Config.AllowedTypes[ev.Type] {
		return &dropped{reason: "event type not in allow-list: " + ev.Type}
	}

	// 5. Money-Path Guard.
	if err := validateMoneyPath(ev); err != nil {
		if g.Logger != nil {
			g.Logger.Warn("gate: money-path guard rejected event", "event", ev.ProviderEventID, "error", err)
		}

		return &dropped{reason: "money-path validation failed"}
	}

	// 6. Temporal Guard.
	if ev.OwnerID != "" {
		head, hasHead, err := g.Heads.Head(ctx, ev.OwnerID)
		if err != nil {
			return err
		}

		if hasHead && ev.ReceivedAt.Before(head) {
			return &dropped{reason: "temporal replay: event older than owner's current head"}
		}

		if err := g.Heads.AdvanceHead(ctx, ev.OwnerID, ev.ReceivedAt); err != nil {
			return err
		}
	}

	// 7. Late-arrival telemetry (does not drop).
	lateAfter := g.Config.LateArrivalAfter
	if lateAfter == 0 {
		lateAfter = 10 * time.Minute
	}

	if time.Since(ev.ReceivedAt) > lateAfter && g.Logger != nil {
		g.Logger.Warn("gate: event arrived late, possible outage gap", "event", ev.ProviderEventID, "age", time.Since(ev.ReceivedAt))
	}

	return g.Dispatcher.Dispatch(ctx, ev)
}

func verifyHMAC(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifySignature exposes the Source Guard's HMAC check to internal/httpapi,
// which must reject a bad signature synchronously (400) before publishing
// onto the ingestion queue, rather than waiting for the async consumer to
// discover the same failure.
func (g *Gate) VerifySignature(body []byte, signature string) bool {
	return verifyHMAC(g.Config.HMACSecret, body, signature)
}

// validateMoneyPath enforces currency=USD, non-negative amounts, and a
// present task ID (spec.md §4.5 guard 5, §6.3's metadata path rule —
// extraction of TaskID from metadata happens in the caller's JSON
// unmarshal; here we just validate what landed in Event).
func validateMoneyPath(ev Event) error {
	if ev.Currency != "" && ev.Currency != "USD" {
		return merr.Wrap(merr.ErrMalformedPayload, "CURRENCY_NOT_USD", "event currency %q is not USD", ev.Currency)
	}

	if ev.AmountCents < 0 {
		return merr.Wrap(merr.ErrMalformedPayload, "NEGATIVE_AMOUNT", "event amount %d is negative", ev.AmountCents)
	}

	if ev.TaskID == "" {
		return merr.Wrap(merr.ErrMalformedPayload, "MISSING_TASK_ID", "event carries no task id in metadata")
	}

	return nil
}
