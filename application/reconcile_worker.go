package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stakemesh/wallet-client/service"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// ReconcileWorker drives the balance poll loop: one merge pass per tick
// while a session is active. Push events arrive between ticks; the loop
// is also the fallback when the push channel is down.
type ReconcileWorker struct {
	reconciler service.BalanceReconciler
	interval   time.Duration
}

// NewReconcileWorker creates a reconcile worker.
func NewReconcileWorker(reconciler service.BalanceReconciler, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		interval:   interval,
	}
}

// Start begins the poll loop and returns a cleanup function.
func (w *ReconcileWorker) Start(ctx context.Context) (func(), error) {
	scheduler := cron.New()

	spec := fmt.Sprintf("@every %s", w.interval)
	_, err := scheduler.AddFunc(spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, w.interval)
		defer cancel()

		if err := w.reconciler.Reconcile(tickCtx); err != nil {
			if errors.Is(err, service.ErrStaleEpoch) {
				return
			}
			log.WithError(err).Debug("Reconcile tick failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconcile loop: %w", err)
	}

	scheduler.Start()
	log.WithField("interval", w.interval).Info("Reconcile worker started")

	return func() {
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
		log.Info("Reconcile worker stopped")
	}, nil
}
