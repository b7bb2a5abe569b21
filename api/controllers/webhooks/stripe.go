package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront/api/responses"
	stripewebhook "github.com/angelmondragon/storefront/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

// maxPayloadBytes matches the cap Stripe documents for event payloads.
const maxPayloadBytes = 65536

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.Claim, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type signingSecret interface {
	SigningSecret() string
}

type receipt struct {
	Received bool   `json:"received"`
	Warning  string `json:"warning,omitempty"`
}

// StripeWebhook verifies and reconciles payment events. Business outcomes
// always answer 200 so the provider stops retrying; only signature failures
// and infrastructure errors answer otherwise.
func StripeWebhook(svc eventHandler, secret signingSecret, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}
		if secret == nil || strings.TrimSpace(secret.SigningSecret()) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe webhook secret is not configured"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "missing Stripe-Signature header"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid webhook signature"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		claim, err := guard.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check event idempotency"))
			return
		}
		switch claim {
		case stripewebhook.ClaimDone:
			if logg != nil {
				logg.Info(ctx, "webhook.duplicate_event")
			}
			responses.WriteSuccess(w, receipt{Received: true})
			return
		case stripewebhook.ClaimInFlight:
			// non-2xx so the provider redelivers once the running attempt settles
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
			return
		}

		outcome, err := reconcile(ctx, svc, guard, &event, logg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, receipt{Received: true, Warning: outcome.Warning})
	}
}

// reconcile runs the handler while holding the event claim. The claim is
// kept only when the handler returns cleanly; an error or a panic drops it.
func reconcile(ctx context.Context, svc eventHandler, guard eventGuard, event *stripe.Event, logg *logger.Logger) (outcome stripewebhook.Outcome, err error) {
	settled := false
	defer func() {
		if settled {
			return
		}
		if relErr := guard.Release(context.WithoutCancel(ctx), event.ID); relErr != nil && logg != nil {
			logg.Error(ctx, "webhook.guard_release_failed", relErr)
		}
	}()

	outcome, err = svc.HandleEvent(ctx, event)
	if err != nil {
		return outcome, err
	}
	settled = true
	if doneErr := guard.Complete(context.WithoutCancel(ctx), event.ID); doneErr != nil && logg != nil {
		logg.Warn(logg.WithField(ctx, "error", doneErr.Error()), "webhook.guard_complete_failed")
	}
	return outcome, nil
}
