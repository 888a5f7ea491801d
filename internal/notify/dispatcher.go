// Package notify fans lifecycle events out to subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sigwatch/internal/gateway/notifier"
	"sigwatch/internal/logger"
	"sigwatch/internal/pkg/circuit"
	"sigwatch/internal/pkg/retry"
	"sigwatch/internal/store"
	"sigwatch/internal/types"
)

const persistTimeout = 5 * time.Second

type Options struct {
	RatePerSecond float64
	Burst         int
	Workers       int
	Retry         retry.Policy
	// Breaker guards the messaging channel; nil disables it.
	Breaker *circuit.CircuitBreaker
}

// Result is the outcome for one recipient.
type Result struct {
	UserID   int64
	Status   types.DeliveryStatus
	Attempts int
	Err      error
}

// DeliveryReport summarizes one Dispatch call.
type DeliveryReport struct {
	SignalID   string
	Action     types.Action
	Recipients int
	Delivered  int
	Failed     int
	Results    []Result
}

// Dispatcher delivers one lifecycle message per recipient. The rate limiter is
// shared by every Dispatch call in the process.
type Dispatcher struct {
	store     store.Store
	messenger notifier.Messenger
	renderer  *Renderer
	limiter   *rate.Limiter
	policy    retry.Policy
	breaker   *circuit.CircuitBreaker
	workers   int
}

func NewDispatcher(st store.Store, m notifier.Messenger, r *Renderer, opts Options) *Dispatcher {
	perSec := opts.RatePerSecond
	if perSec <= 0 {
		perSec = 25
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Dispatcher{
		store:     st,
		messenger: m,
		renderer:  r,
		limiter:   rate.NewLimiter(rate.Limit(perSec), burst),
		policy:    opts.Retry,
		breaker:   opts.Breaker,
		workers:   workers,
	}
}

// Recipients resolves who hears about sig. Opens go to every funded user; later
// actions go only to users whose open message for this signal was delivered.
func (d *Dispatcher) Recipients(ctx context.Context, sig types.Signal, action types.Action) ([]types.User, error) {
	if action == types.ActionOpen {
		return d.store.Users().FundedUsers(ctx)
	}
	ids, err := d.store.Deliveries().OpenRecipients(ctx, sig.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return d.store.Users().ListByIDs(ctx, ids)
}

// Dispatch sends sig to its recipients. Per-recipient failures are reported in
// the DeliveryReport; only recipient resolution errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sig types.Signal, action types.Action) (DeliveryReport, error) {
	report := DeliveryReport{SignalID: sig.ID, Action: action}
	users, err := d.Recipients(ctx, sig, action)
	if err != nil {
		return report, fmt.Errorf("resolve recipients for signal %d: %w", sig.SequenceNumber, err)
	}
	report.Recipients = len(users)
	if len(users) == 0 {
		logger.Infof("signal #%05d %s: no recipients", sig.SequenceNumber, action)
		return report, nil
	}

	bodies := make(map[string]string)
	results := make([]Result, len(users))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.workers)
	for i, u := range users {
		i, u := i, u
		eg.Go(func() error {
			mu.Lock()
			body, ok := bodies[u.Locale]
			mu.Unlock()
			if !ok {
				rendered, err := d.renderer.Render(sig, action, u.Locale)
				if err != nil {
					results[i] = d.finish(egCtx, sig, action, u, 0, err)
					return nil
				}
				body = rendered
				mu.Lock()
				bodies[u.Locale] = body
				mu.Unlock()
			}
			attempts, err := d.deliver(egCtx, u, body)
			results[i] = d.finish(egCtx, sig, action, u, attempts, err)
			return nil
		})
	}
	_ = eg.Wait()

	report.Results = results
	for _, r := range results {
		if r.Status == types.DeliveryDelivered {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	logger.Infof("signal #%05d %s dispatched: delivered=%d failed=%d", sig.SequenceNumber, action, report.Delivered, report.Failed)
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, u types.User, body string) (int, error) {
	return d.policy.Do(ctx, retryableDelivery, func(ctx context.Context, attempt int) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		send := func() error { return d.messenger.Send(ctx, u.TelegramID, body) }
		var err error
		if d.breaker != nil {
			err = d.breaker.Execute(send, channelFailure)
		} else {
			err = send()
		}
		if err != nil {
			var de *types.DeliveryError
			if errors.As(err, &de) {
				de.UserID = u.ID
			}
			logger.Debugf("deliver to user %d attempt %d: %v", u.ID, attempt, err)
		}
		return err
	})
}

// finish records the outcome. A delivered open consumes one signal credit in
// the same transaction as its delivery row.
func (d *Dispatcher) finish(ctx context.Context, sig types.Signal, action types.Action, u types.User, attempts int, sendErr error) Result {
	res := Result{UserID: u.ID, Attempts: attempts, Status: types.DeliveryDelivered}
	row := types.Delivery{
		SignalID:  sig.ID,
		UserID:    u.ID,
		Action:    action,
		Status:    types.DeliveryDelivered,
		Attempts:  attempts,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr != nil {
		res.Status = types.DeliveryFailed
		res.Err = sendErr
		row.Status = types.DeliveryFailed
		row.Error = sendErr.Error()
		logger.Warnf("signal #%05d %s: delivery to user %d failed after %d attempts: %v",
			sig.SequenceNumber, action, u.ID, attempts, sendErr)
	}

	// the message is already out; record it even if the cycle deadline passed
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := store.WithTx(pctx, d.store, func(uow store.UnitOfWork) error {
		if err := uow.Deliveries().Insert(pctx, &row); err != nil {
			return err
		}
		if action != types.ActionOpen || row.Status != types.DeliveryDelivered {
			return nil
		}
		ok, err := uow.Users().ConsumeCredit(pctx, u.ID, sig.ID)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warnf("signal #%05d: user %d had no credit left at delivery time", sig.SequenceNumber, u.ID)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("signal #%05d: record delivery for user %d: %v", sig.SequenceNumber, u.ID, err)
	}
	return res
}

func retryableDelivery(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, types.ErrRecipientBlocked),
		errors.Is(err, circuit.ErrOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var de *types.DeliveryError
	if errors.As(err, &de) && de.StatusCode >= 400 && de.StatusCode < 500 && de.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

// channelFailure decides what trips the breaker: transport errors, throttling
// and server errors, never a single recipient's refusal.
func channelFailure(err error) bool {
	var de *types.DeliveryError
	if !errors.As(err, &de) {
		return true
	}
	return de.StatusCode == 0 || de.StatusCode == http.StatusTooManyRequests || de.StatusCode >= 500
}
