package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	xhttp "FxAlert/pkg/http"
	"FxAlert/pkg/logger"
)

// Command names understood by the router.
const (
	CmdSignal        = "signal"
	CmdSubscribe     = "subscribe"
	CmdUnsubscribe   = "unsubscribe"
	CmdSubscriptions = "subscriptions"
	CmdHelp          = "help"
)

const helpText = `Available commands:
/signal pair:<EURUSD> [timeframe:<1h>] - current signal
/subscribe pair:<EURUSD> [timeframe:<1h>] [signal_type:all|buy|sell|strong] [min_confidence:0.7]
/unsubscribe pair:<EURUSD> [timeframe:<1h>]
/subscriptions - list your subscriptions`

// CommandRouter executes interaction commands and produces user-safe replies.
type CommandRouter struct {
	states domrepo.SignalStateStore
	subs   domrepo.SubscriptionStore
	log    *logger.Logger
	now    func() time.Time
}

func NewCommandRouter(states domrepo.SignalStateStore, subs domrepo.SubscriptionStore, l *logger.Logger) *CommandRouter {
	if l == nil {
		l = logger.Nop()
	}
	return &CommandRouter{states: states, subs: subs, log: l, now: time.Now}
}

// Respond executes in and always returns text safe to show the user.
func (r *CommandRouter) Respond(ctx context.Context, in models.InboundInteraction) string {
	out, err := r.Execute(ctx, in)
	if err != nil {
		lvl := r.log.Warn
		if !errors.Is(err, models.ErrInvalidParams) && !errors.Is(err, models.ErrUnknownCommand) && !errors.Is(err, models.ErrNotFound) {
			lvl = r.log.Error
		}
		lvl("command failed",
			logger.Interaction(in.ID),
			logger.String("command", in.CommandName),
			logger.Error(err))
		return models.UserMessageFor(err)
	}
	return out
}

// Execute runs the command named by in.
func (r *CommandRouter) Execute(ctx context.Context, in models.InboundInteraction) (string, error) {
	switch strings.ToLower(in.CommandName) {
	case CmdSignal:
		return r.signal(ctx, in)
	case CmdSubscribe:
		return r.subscribe(ctx, in)
	case CmdUnsubscribe:
		return r.unsubscribe(ctx, in)
	case CmdSubscriptions:
		return r.list(ctx, in)
	case CmdHelp:
		return helpText, nil
	default:
		return "", fmt.Errorf("%q: %w", in.CommandName, models.ErrUnknownCommand)
	}
}

func validateParams(ctx context.Context, v interface{}) error {
	if errs := xhttp.ValidateStruct(ctx, v); len(errs) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidParams, errs[0].Message)
	}
	return nil
}

func tupleOf(pair, tf string) (models.Tuple, error) {
	p, err := models.NormalizePair(pair)
	if err != nil {
		return models.Tuple{}, fmt.Errorf("%w: %v", models.ErrInvalidParams, err)
	}
	return models.Tuple{Pair: p, Timeframe: models.Timeframe(tf)}, nil
}

// recipientOf is where notifications for in's user are delivered.
func recipientOf(in models.InboundInteraction) (string, error) {
	if in.ChannelID != "" {
		return in.ChannelID, nil
	}
	if in.UserID != "" {
		return in.UserID, nil
	}
	return "", fmt.Errorf("%w: no recipient", models.ErrInvalidParams)
}

func (r *CommandRouter) signal(ctx context.Context, in models.InboundInteraction) (string, error) {
	p := models.SignalCommandParams{Pair: in.Params["pair"], Timeframe: strings.ToLower(in.Params["timeframe"])}
	if err := validateParams(ctx, &p); err != nil {
		return "", err
	}
	t, err := tupleOf(p.Pair, p.Timeframe)
	if err != nil {
		return "", err
	}
	st, found, err := r.states.Get(ctx, t)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	if !found {
		return "", fmt.Errorf("state %s: %w", t, models.ErrNotFound)
	}
	return RenderState(st), nil
}

func (r *CommandRouter) subscribe(ctx context.Context, in models.InboundInteraction) (string, error) {
	p := models.SubscribeCommandParams{
		Pair:       in.Params["pair"],
		Timeframe:  strings.ToLower(in.Params["timeframe"]),
		SignalType: strings.ToLower(in.Params["signal_type"]),
	}
	if raw := in.Params["min_confidence"]; raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("%w: min_confidence %q", models.ErrInvalidParams, raw)
		}
		p.MinConfidence = v
	}
	if err := validateParams(ctx, &p); err != nil {
		return "", err
	}
	t, err := tupleOf(p.Pair, p.Timeframe)
	if err != nil {
		return "", err
	}
	recipient, err := recipientOf(in)
	if err != nil {
		return "", err
	}
	sub := models.Subscription{
		RecipientID: recipient,
		Pair:        t.Pair,
		Timeframe:   t.Timeframe,
		Filter:      models.Filter{SignalType: models.SignalTypeFilter(p.SignalType), MinConfidence: p.MinConfidence},
		CreatedAt:   r.now(),
	}
	if err := r.subs.Upsert(ctx, sub); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return fmt.Sprintf("Subscribed to %s %s (%s).", t.Pair, t.Timeframe, p.SignalType), nil
}

func (r *CommandRouter) unsubscribe(ctx context.Context, in models.InboundInteraction) (string, error) {
	p := models.UnsubscribeCommandParams{Pair: in.Params["pair"], Timeframe: strings.ToLower(in.Params["timeframe"])}
	if err := validateParams(ctx, &p); err != nil {
		return "", err
	}
	t, err := tupleOf(p.Pair, p.Timeframe)
	if err != nil {
		return "", err
	}
	recipient, err := recipientOf(in)
	if err != nil {
		return "", err
	}
	removed, err := r.subs.Delete(ctx, recipient, t)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	if !removed {
		return fmt.Sprintf("You were not subscribed to %s %s.", t.Pair, t.Timeframe), nil
	}
	return fmt.Sprintf("Unsubscribed from %s %s.", t.Pair, t.Timeframe), nil
}

func (r *CommandRouter) list(ctx context.Context, in models.InboundInteraction) (string, error) {
	recipient, err := recipientOf(in)
	if err != nil {
		return "", err
	}
	subs, err := r.subs.ListByRecipient(ctx, recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return RenderSubscriptions(subs), nil
}
