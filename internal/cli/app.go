package cli

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/config"
	"github.com/khanglvm/espresso-dialin/internal/dialin"
	"github.com/khanglvm/espresso-dialin/internal/predictor"
	"github.com/khanglvm/espresso-dialin/internal/shotlog"
	"github.com/khanglvm/espresso-dialin/internal/spawner"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

type refFlags struct {
	bean   string
	method string
	user   string
}

func (r refFlags) ref() dialin.Ref {
	return dialin.Ref{BeanID: r.bean, Method: r.method, UserID: r.user}
}

// app is the wired service stack of one command invocation.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	process *spawner.Process
	tracker *shotlog.Tracker
	pred    *predictor.Predictor
	svc     *dialin.Service
}

// configPath resolves --config, falling back to the default location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString(flagConfig); p != "" {
		return p, nil
	}
	return config.GetDefaultConfigPath()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString(flagDB); db != "" {
		cfg.Storage.Path = db
	}
	return cfg, nil
}

// openApp loads config and wires the store, model, archive, and service.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		if dbPath, err = storage.DefaultPath(); err != nil {
			return nil, err
		}
	}
	store := storage.NewStorage(dbPath)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to open trial history at %s: %w", dbPath, err)
	}

	a := &app{cfg: cfg, store: store}

	scorer, opt, err := a.buildModel()
	if err != nil {
		store.Close()
		return nil, err
	}

	dcfg := cfg.DialInSettings()
	a.pred = predictor.New(scorer, store, cfg.PredictorSettings())
	a.tracker = shotlog.NewTracker(store)
	a.svc = dialin.NewService(store, a.pred, dialin.NewRecommender(dcfg, opt), dcfg, dialin.Options{
		Tracker: a.tracker,
	})
	return a, nil
}

// buildModel returns the scorer for the configured model kind. The process
// backend also serves as the optimization backend.
func (a *app) buildModel() (predictor.Scorer, dialin.Optimizer, error) {
	m := a.cfg.Model
	switch m.Kind {
	case config.ModelLinear:
		model, err := predictor.LoadLinearModel(m.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load model: %w", err)
		}
		return model, nil, nil

	case config.ModelProcess:
		a.process = spawner.New(spawner.Config{
			Command: m.Command,
			Args:    m.Args,
			Env:     m.Env,
			Timeout: a.cfg.ModelTimeout(),
		})
		return predictor.NewProcessScorer(a.process, nil), dialin.NewProcessOptimizer(a.process), nil

	default:
		return predictor.NewRuleScorer(), nil, nil
	}
}

// Close drains the shot archive, then stops the model process and closes
// the store.
func (a *app) Close() error {
	var errs []error
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.process != nil {
		if err := a.process.Close(); err != nil {
			log.Printf("Warning: model process did not exit cleanly: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
