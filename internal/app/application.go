// Package app wires the domain services to their stores and manages their
// lifecycle as one unit.
package app

import (
	"github.com/go-redis/redis/v8"

	"github.com/studycrew/studycrew/internal/app/services/lifecycle"
	"github.com/studycrew/studycrew/internal/app/services/reconciler"
	"github.com/studycrew/studycrew/internal/app/services/roster"
	"github.com/studycrew/studycrew/internal/app/services/studies"
	"github.com/studycrew/studycrew/internal/app/storage"
	"github.com/studycrew/studycrew/internal/app/storage/memory"
	"github.com/studycrew/studycrew/internal/metrics"
	"github.com/studycrew/studycrew/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Studies     storage.StudyStore
	Memberships storage.MembershipStore
	Users       storage.UserDirectory
}

// Options carries optional infrastructure.
type Options struct {
	Cache   *redis.Client
	Metrics *metrics.Metrics

	// ReconcileSpec is a cron expression for the counter audit. Empty
	// disables scheduling; ReconcileAll stays callable either way.
	ReconcileSpec string
}

// Application ties domain services together.
type Application struct {
	log           *logger.Logger
	reconcileSpec string

	Studies    *studies.Service
	Lifecycle  *lifecycle.Service
	Roster     *roster.Service
	Reconciler *reconciler.Reconciler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Studies == nil {
		stores.Studies = mem
	}
	if stores.Memberships == nil {
		stores.Memberships = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}

	lifecycleService := lifecycle.New(stores.Memberships, log.Named("lifecycle"))
	if opts.Metrics != nil {
		lifecycleService.AttachMetrics(opts.Metrics)
	}

	return &Application{
		log:           log,
		reconcileSpec: opts.ReconcileSpec,
		Studies:       studies.New(stores.Studies, log.Named("studies")),
		Lifecycle:     lifecycleService,
		Roster:        roster.New(stores.Studies, stores.Memberships, stores.Users, opts.Cache, log.Named("roster")),
		Reconciler:    reconciler.New(stores.Studies, stores.Memberships, opts.Metrics, log.Named("reconciler")),
	}
}

// Start launches background work: today, the scheduled counter audit.
func (a *Application) Start() error {
	if a.reconcileSpec == "" {
		return nil
	}
	if err := a.Reconciler.Start(a.reconcileSpec); err != nil {
		return err
	}
	a.log.WithField("spec", a.reconcileSpec).Info("counter reconciler scheduled")
	return nil
}

// Stop drains background work.
func (a *Application) Stop() {
	a.Reconciler.Stop()
}
