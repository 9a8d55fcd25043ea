package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/witcopier/internal/adapters/locator"
	"github.com/hylla/witcopier/internal/adapters/server/common"
	"github.com/hylla/witcopier/internal/adapters/storage/sqlite"
	"github.com/hylla/witcopier/internal/adapters/workitems/rest"
	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/config"
	"github.com/hylla/witcopier/internal/credential"
	"github.com/hylla/witcopier/internal/metrics"
)

// copierRuntime holds the composed notification pipeline for one process.
type copierRuntime struct {
	locator    *locator.Locator
	copier     *app.WorkItemCopier
	dispatcher *app.Dispatcher
	service    *common.AppServiceAdapter
	metrics    *metrics.Recorder
}

// copyPolicyFromConfig converts the [copy] section into a validated policy.
func copyPolicyFromConfig(cfg config.CopyConfig) (app.CopyPolicy, error) {
	return app.NewCopyPolicy(app.CopyPolicyInput{
		SourceProject:    cfg.SourceProject,
		TargetProject:    cfg.TargetProject,
		TriggerState:     cfg.TriggerState,
		ExpectedType:     cfg.ExpectedType,
		ExcludedFields:   cfg.ExcludedFields,
		RequireTypeMatch: cfg.RequireTypeMatch,
	})
}

// storeOpener selects how connection addresses bind to work item stores.
func storeOpener(s *session, repo *sqlite.Repository) (locator.Opener, error) {
	switch config.StoreMode(strings.ToLower(strings.TrimSpace(string(s.cfg.Store.Mode)))) {
	case config.StoreModeREST:
		timeout, err := s.cfg.StoreTimeout()
		if err != nil {
			return nil, err
		}
		tokens := s.tokenResolver()
		return locator.RESTOpener(
			tokens,
			rest.WithAPIVersion(s.cfg.Store.APIVersion),
			rest.WithMaxRetries(s.cfg.Store.MaxRetries),
			rest.WithTimeout(timeout),
		), nil
	case config.StoreModeSQLite, "":
		return locator.StaticOpener(repo), nil
	default:
		return nil, fmt.Errorf("%w: %q", app.ErrUnsupportedStoreMode, s.cfg.Store.Mode)
	}
}

// buildCopierRuntime wires policy, locator, copier, and dispatcher around one repository.
func buildCopierRuntime(s *session, repo *sqlite.Repository) (*copierRuntime, error) {
	policy, err := copyPolicyFromConfig(s.cfg.Copy)
	if err != nil {
		return nil, fmt.Errorf("build copy policy: %w", err)
	}
	open, err := storeOpener(s, repo)
	if err != nil {
		return nil, fmt.Errorf("select store mode: %w", err)
	}
	loc, err := locator.New(s.cfg.Host.AccessPoint, s.cfg.Host.DefaultCollection, open)
	if err != nil {
		return nil, fmt.Errorf("build store locator: %w", err)
	}

	recorder := metrics.NewRecorder(metrics.Options{Runtime: true})
	copier := app.NewWorkItemCopier(policy, loc, app.CopierConfig{
		Activity: repo,
		Metrics:  recorder,
		IDGen:    uuid.NewString,
		Clock:    time.Now,
	})
	dispatcher := app.NewDispatcher(recorder, uuid.NewString, time.Now)
	if err := dispatcher.Register(copier); err != nil {
		return nil, fmt.Errorf("register copier: %w", err)
	}
	s.logger.Debug(
		"copier wired",
		"store_mode", s.cfg.Store.Mode,
		"access_point", loc.AccessPoint(),
		"source_project", policy.SourceProject(),
		"target_project", policy.TargetProject(),
		"subscribers", strings.Join(dispatcher.Subscribers(), ","),
	)

	return &copierRuntime{
		locator:    loc,
		copier:     copier,
		dispatcher: dispatcher,
		service: common.NewAppServiceAdapter(common.AdapterDeps{
			Dispatcher: dispatcher,
			Copier:     copier,
			Locator:    loc,
			Activity:   app.NewService(repo, time.Now),
		}),
		metrics: recorder,
	}, nil
}

// tokenResolver builds the credential chain; keyring failures degrade to env-only lookup.
func (s *session) tokenResolver() *credential.Resolver {
	ring, err := s.openKeyring()
	if err != nil {
		s.logger.Warn("keyring unavailable, using environment token only", "err", err)
		ring = nil
	}
	return credential.NewResolver(ring, s.cfg.Credentials.KeyringUser, s.cfg.Credentials.TokenEnv, os.Getenv)
}
