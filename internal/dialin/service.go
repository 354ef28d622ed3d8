/*
Package dialin implements Dial-In Mode: a per (bean, method) sequential
search for the grind, dose, and target time that produce the best shot.

Each call rebuilds its decision from the trial history read at call time:

	cold       no scored trials, propose the method's default center point
	exploring  coarse-to-fine perturbation around the best trial
	refining   small moves near the best trial, along the best gradient
	converged  refinement at half radius, flagged so the caller can stop

An optional Optimizer backend replaces the perturbation policy when it
answers in time.
*/
package dialin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/khanglvm/espresso-dialin/internal/feature"
	"github.com/khanglvm/espresso-dialin/internal/predictor"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/shotlog"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// idPattern bounds bean and user identifiers.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Score sources for a recorded shot.
const (
	ScoreExplicit  = "explicit"
	ScoreLogged    = "logged"
	ScorePredicted = "predicted"
)

// recentLimit is how many scored trials a status report lists.
const recentLimit = 5

// BeanResolver looks beans up in the bean catalog.
type BeanResolver interface {
	BeanExists(ctx context.Context, beanID string) (bool, error)
}

// Predictor scores a feature vector. predictor.Predictor implements it.
type Predictor interface {
	Predict(ctx context.Context, fv feature.FeatureVector) predictor.Prediction
}

// ScoreExplainer is an optional Predictor extension that attributes a score
// to its inputs.
type ScoreExplainer interface {
	Explain(fv feature.FeatureVector) []predictor.Contribution
}

// ShotTracker archives shots. shotlog.Tracker implements it.
type ShotTracker interface {
	Track(event shotlog.ShotEvent)
}

// Ref identifies a study.
type Ref struct {
	BeanID string `json:"beanId"`
	Method string `json:"method"`
	UserID string `json:"userId,omitempty"`
}

// Study returns the study key of the reference.
func (r Ref) Study() string {
	return storage.StudyKey(r.UserID, r.BeanID, r.Method)
}

// LastShot is feedback on the shot just pulled.
type LastShot struct {
	Shot shot.ShotRecord `json:"shot"`

	// Score overrides both the logged and the predicted score.
	Score *float64 `json:"score,omitempty"`

	// TrialNumber names the pending trial the shot was brewed for. Zero
	// records the shot as a new trial.
	TrialNumber int `json:"trialNumber,omitempty"`
}

// DialInRequest starts or continues a session.
type DialInRequest struct {
	Ref
	LastShot *LastShot `json:"lastShot,omitempty"`
}

// BestSoFar summarizes the best trial of a session.
type BestSoFar struct {
	Score       float64 `json:"score"`
	TrialNumber int     `json:"trialNumber"`
	Params
}

// ShotOutcome reports how the last shot was recorded.
type ShotOutcome struct {
	TrialNumber      int                  `json:"trialNumber"`
	Score            float64              `json:"score"`
	ScoreSource      string               `json:"scoreSource"`
	Prediction       predictor.Prediction `json:"prediction"`
	AlreadyCompleted bool                 `json:"alreadyCompleted,omitempty"`
}

// Recommendation is the next trial to brew.
type Recommendation struct {
	Params
	TrialNumber int          `json:"trialNumber"`
	State       State        `json:"state"`
	Converged   bool         `json:"converged"`
	BestSoFar   *BestSoFar   `json:"bestSoFar"`
	TotalTrials int          `json:"totalTrials"`
	StudyName   string       `json:"studyName"`
	Source      string       `json:"source"`
	Message     string       `json:"message"`
	LastShot    *ShotOutcome `json:"lastShot,omitempty"`
}

// ReportRequest records the outcome of a pending trial.
type ReportRequest struct {
	Ref
	TrialNumber   int      `json:"trialNumber"`
	Score         float64  `json:"score"`
	ObservedTime  *float64 `json:"observedTime,omitempty"`
	ObservedYield *float64 `json:"observedYield,omitempty"`
}

// ReportResult is the outcome of ReportResult.
type ReportResult struct {
	Trial            storage.Trial `json:"trial"`
	AlreadyCompleted bool          `json:"alreadyCompleted"`
	State            State         `json:"state"`
	BestSoFar        *BestSoFar    `json:"bestSoFar"`
}

// Status values.
const (
	StatusNotStarted = "not_started"
	StatusActive     = "active"
)

// Status describes a session.
type Status struct {
	StudyName    string          `json:"studyName"`
	Status       string          `json:"status"`
	State        State           `json:"state"`
	Converged    bool            `json:"converged"`
	TotalTrials  int             `json:"totalTrials"`
	ScoredTrials int             `json:"scoredTrials"`
	Best         *storage.Trial  `json:"best"`
	Recent       []storage.Trial `json:"recentTrials"`
}

// ShotAnalysis is the AI-coach view of one shot.
type ShotAnalysis struct {
	Features   feature.FeatureVector `json:"features"`
	Prediction predictor.Prediction  `json:"prediction"`

	// Contributions is set when the model can explain its score.
	Contributions []predictor.Contribution `json:"contributions,omitempty"`
}

// Options are the optional collaborators of a Service.
type Options struct {
	Beans   BeanResolver
	Tracker ShotTracker
}

// Service exposes the dial-in operations. It keeps no state between calls
// beyond the injected store.
type Service struct {
	store       storage.Store
	predictor   Predictor
	recommender *Recommender
	beans       BeanResolver
	tracker     ShotTracker
	cfg         Config
	logger      *slog.Logger
}

// NewService wires a Service.
func NewService(store storage.Store, pred Predictor, rec *Recommender, cfg Config, opts Options) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		store:       store,
		predictor:   pred,
		recommender: rec,
		beans:       opts.Beans,
		tracker:     opts.Tracker,
		cfg:         cfg,
		logger:      cfg.Logger,
	}
}

// StartOrContinueDialIn records the last shot when given and returns the
// next trial to brew. Invalid input fails before anything is recorded.
func (s *Service) StartOrContinueDialIn(ctx context.Context, req DialInRequest) (Recommendation, error) {
	if err := s.validateRef(ctx, req.Ref); err != nil {
		return Recommendation{}, err
	}
	study := req.Study()
	log := s.logger.With("bean_id", req.BeanID, "method", req.Method)

	var outcome *ShotOutcome
	if req.LastShot != nil {
		o, err := s.recordLastShot(ctx, req.Ref, *req.LastShot)
		if err != nil {
			return Recommendation{}, err
		}
		outcome = o
	}

	trials, err := s.store.ListTrials(ctx, study, 0)
	if err != nil {
		return Recommendation{}, fmt.Errorf("failed to read trial history: %w", err)
	}

	prop, err := s.recommender.Propose(ctx, study, req.Method, trials)
	if err != nil {
		return Recommendation{}, err
	}

	pending, err := s.appendWithRetry(ctx, storage.Trial{
		Study:      study,
		BeanID:     req.BeanID,
		Method:     req.Method,
		Grind:      prop.Grind,
		Dose:       prop.Dose,
		TargetTime: prop.TargetTime,
		Source:     prop.Source,
	})
	if err != nil {
		return Recommendation{}, err
	}

	log.Info("dial-in recommendation",
		"trial_number", pending.TrialNumber, "state", string(prop.State), "source", prop.Source)

	scored := scoredTrials(trials)
	rec := Recommendation{
		Params:      prop.Params,
		TrialNumber: pending.TrialNumber,
		State:       prop.State,
		Converged:   prop.Converged,
		BestSoFar:   bestSummary(scored),
		TotalTrials: len(scored),
		StudyName:   study,
		Source:      prop.Source,
		LastShot:    outcome,
	}
	rec.Message = message(rec)
	return rec, nil
}

// recordLastShot validates, scores, and records the shot. Validation and
// prediction happen before any write.
func (s *Service) recordLastShot(ctx context.Context, ref Ref, ls LastShot) (*ShotOutcome, error) {
	if err := ls.Shot.Validate(); err != nil {
		return nil, err
	}
	if ls.Score != nil {
		if err := validateScore("score", *ls.Score); err != nil {
			return nil, err
		}
	}
	if ls.TrialNumber < 0 {
		return nil, fmt.Errorf("%w: trial number %d", ErrInvalidRequest, ls.TrialNumber)
	}

	fv, err := feature.Transform(ls.Shot)
	if err != nil {
		return nil, err
	}
	pred := s.predictor.Predict(ctx, fv)

	out := &ShotOutcome{Prediction: pred}
	switch {
	case ls.Score != nil:
		out.Score, out.ScoreSource = *ls.Score, ScoreExplicit
	case ls.Shot.QualityScore != nil:
		out.Score, out.ScoreSource = *ls.Shot.QualityScore, ScoreLogged
	default:
		out.Score, out.ScoreSource = pred.Score, ScorePredicted
	}

	obsTime, obsYield := ls.Shot.ExtractionTime, ls.Shot.WeightOut
	grind, dose := ls.Shot.GrindSize, ls.Shot.DoseIn
	study := ref.Study()

	if ls.TrialNumber > 0 {
		// The trial keeps the grind and dose of the shot as brewed, which may
		// differ from what was proposed.
		t, err := s.store.RecordScore(ctx, study, ls.TrialNumber, storage.Observation{
			Score: out.Score,
			Time:  &obsTime,
			Yield: &obsYield,
			Grind: &grind,
			Dose:  &dose,
		})
		switch {
		case errors.Is(err, storage.ErrTrialNotFound):
			return nil, fmt.Errorf("%w: trial %d does not exist in %s", ErrInvalidRequest, ls.TrialNumber, study)
		case errors.Is(err, storage.ErrTrialAlreadyScored):
			out.AlreadyCompleted = true
			out.Score = t.Score()
		case err != nil:
			return nil, fmt.Errorf("failed to record score: %w", err)
		}
		out.TrialNumber = ls.TrialNumber
	} else {
		score := out.Score
		t, err := s.appendWithRetry(ctx, storage.Trial{
			Study:         study,
			BeanID:        ref.BeanID,
			Method:        ref.Method,
			Grind:         ls.Shot.GrindSize,
			Dose:          ls.Shot.DoseIn,
			TargetTime:    ls.Shot.ExtractionTime,
			ObservedScore: &score,
			ObservedTime:  &obsTime,
			ObservedYield: &obsYield,
			Source:        storage.SourceShot,
		})
		if err != nil {
			return nil, err
		}
		out.TrialNumber = t.TrialNumber
	}

	if s.tracker != nil && !out.AlreadyCompleted {
		s.tracker.Track(shotlog.NewShotEvent(ref.BeanID, ref.Method, ls.Shot, pred))
	}
	return out, nil
}

// appendWithRetry appends t with a fresh trial number, retrying when another
// writer took the number first.
func (s *Service) appendWithRetry(ctx context.Context, t storage.Trial) (storage.Trial, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxAppendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return storage.Trial{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			}
		}

		saved, err := s.store.AppendNext(ctx, t)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, storage.ErrDuplicateTrialNumber) {
			return storage.Trial{}, fmt.Errorf("failed to append trial: %w", err)
		}
		lastErr = err
		s.logger.Debug("trial number taken, retrying", "study", t.Study, "attempt", attempt+1)
	}
	return storage.Trial{}, fmt.Errorf("failed to append trial after %d retries: %w", s.cfg.MaxAppendRetries, lastErr)
}

// ReportResult records the outcome of a pending trial. A trial that already
// has a score is reported back unchanged with AlreadyCompleted set.
func (s *Service) ReportResult(ctx context.Context, req ReportRequest) (ReportResult, error) {
	if err := s.validateRef(ctx, req.Ref); err != nil {
		return ReportResult{}, err
	}
	if err := validateScore("score", req.Score); err != nil {
		return ReportResult{}, err
	}
	if req.TrialNumber < 1 {
		return ReportResult{}, fmt.Errorf("%w: trial number %d", ErrInvalidRequest, req.TrialNumber)
	}

	study := req.Study()
	t, err := s.store.RecordScore(ctx, study, req.TrialNumber, storage.Observation{
		Score: req.Score,
		Time:  req.ObservedTime,
		Yield: req.ObservedYield,
	})

	res := ReportResult{Trial: t}
	switch {
	case errors.Is(err, storage.ErrTrialNotFound):
		return ReportResult{}, fmt.Errorf("%w: trial %d in %s", ErrNotFound, req.TrialNumber, study)
	case errors.Is(err, storage.ErrTrialAlreadyScored):
		res.AlreadyCompleted = true
	case err != nil:
		return ReportResult{}, fmt.Errorf("failed to record score: %w", err)
	}

	trials, err := s.store.ListTrials(ctx, study, 0)
	if err != nil {
		return ReportResult{}, fmt.Errorf("failed to read trial history: %w", err)
	}
	res.State = Classify(trials, s.cfg.Thresholds)
	res.BestSoFar = bestSummary(scoredTrials(trials))

	s.logger.Info("trial result recorded",
		"bean_id", req.BeanID, "method", req.Method, "trial_number", req.TrialNumber,
		"state", string(res.State), "already_completed", res.AlreadyCompleted)
	return res, nil
}

// GetTrialHistory returns a study's trials in ascending trial number.
// limit <= 0 returns all of them.
func (s *Service) GetTrialHistory(ctx context.Context, ref Ref, limit int) ([]storage.Trial, error) {
	if err := s.validateRef(ctx, ref); err != nil {
		return nil, err
	}
	trials, err := s.store.ListTrials(ctx, ref.Study(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read trial history: %w", err)
	}
	return trials, nil
}

// GetBestParameters returns the best scored trial or ErrNotFound.
func (s *Service) GetBestParameters(ctx context.Context, ref Ref) (storage.Trial, error) {
	if err := s.validateRef(ctx, ref); err != nil {
		return storage.Trial{}, err
	}
	t, err := s.store.BestTrial(ctx, ref.Study())
	if errors.Is(err, storage.ErrTrialNotFound) {
		return storage.Trial{}, fmt.Errorf("%w: no scored trials in %s", ErrNotFound, ref.Study())
	}
	if err != nil {
		return storage.Trial{}, fmt.Errorf("failed to read best trial: %w", err)
	}
	return t, nil
}

// GetStatus summarizes a session.
func (s *Service) GetStatus(ctx context.Context, ref Ref) (Status, error) {
	if err := s.validateRef(ctx, ref); err != nil {
		return Status{}, err
	}
	study := ref.Study()

	trials, err := s.store.ListTrials(ctx, study, 0)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read trial history: %w", err)
	}

	st := Status{
		StudyName:   study,
		Status:      StatusNotStarted,
		State:       Classify(trials, s.cfg.Thresholds),
		TotalTrials: len(trials),
		Recent:      []storage.Trial{},
	}
	st.Converged = st.State == StateConverged
	if len(trials) == 0 {
		return st, nil
	}
	st.Status = StatusActive

	scored := scoredTrials(trials)
	st.ScoredTrials = len(scored)
	if len(scored) > 0 {
		best := bestOf(scored)
		st.Best = &best
	}
	if len(scored) > recentLimit {
		scored = scored[len(scored)-recentLimit:]
	}
	st.Recent = scored
	return st, nil
}

// PredictShot runs the feature transform and the predictor over one shot.
func (s *Service) PredictShot(ctx context.Context, rec shot.ShotRecord) (ShotAnalysis, error) {
	if err := rec.Validate(); err != nil {
		return ShotAnalysis{}, err
	}
	fv, err := feature.Transform(rec)
	if err != nil {
		return ShotAnalysis{}, err
	}
	a := ShotAnalysis{Features: fv, Prediction: s.predictor.Predict(ctx, fv)}
	if ex, ok := s.predictor.(ScoreExplainer); ok && !a.Prediction.Degraded {
		a.Contributions = ex.Explain(fv)
	}
	return a, nil
}

// Methods lists the supported brewing methods.
func (s *Service) Methods() []string {
	return methodNames(s.cfg.Profiles)
}

func (s *Service) validateRef(ctx context.Context, ref Ref) error {
	if !idPattern.MatchString(ref.BeanID) {
		return fmt.Errorf("%w: beanId must be 1-128 characters of letters, digits, '.', '_' or '-'", ErrInvalidRequest)
	}
	if _, ok := s.cfg.Profiles[ref.Method]; !ok {
		return fmt.Errorf("%w: method %q must be one of %v", ErrInvalidRequest, ref.Method, s.Methods())
	}
	if ref.UserID != "" && !idPattern.MatchString(ref.UserID) {
		return fmt.Errorf("%w: userId must be 1-128 characters of letters, digits, '.', '_' or '-'", ErrInvalidRequest)
	}

	if s.beans != nil {
		ok, err := s.beans.BeanExists(ctx, ref.BeanID)
		if err != nil {
			return fmt.Errorf("bean lookup failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrBeanNotFound, ref.BeanID)
		}
	}
	return nil
}

func validateScore(field string, v float64) error {
	if !finite(v) || v < 0 || v > 10 {
		return &shot.FieldError{Field: field, Value: v, Reason: "must be between 0 and 10"}
	}
	return nil
}

func bestSummary(scored []storage.Trial) *BestSoFar {
	if len(scored) == 0 {
		return nil
	}
	b := bestOf(scored)
	return &BestSoFar{
		Score:       b.Score(),
		TrialNumber: b.TrialNumber,
		Params:      Params{Grind: b.Grind, Dose: b.Dose, TargetTime: b.TargetTime},
	}
}

func message(r Recommendation) string {
	switch r.State {
	case StateCold:
		return fmt.Sprintf("Starting dial-in. Pull trial %d at grind %.1f with %.1fg in, aiming for %.0fs.",
			r.TrialNumber, r.Grind, r.Dose, r.TargetTime)
	case StateExploring:
		return fmt.Sprintf("Exploring. Best so far is %.1f/10 on trial %d. Try grind %.1f, %.1fg in, %.0fs.",
			r.BestSoFar.Score, r.BestSoFar.TrialNumber, r.Grind, r.Dose, r.TargetTime)
	case StateRefining:
		return fmt.Sprintf("Refining near trial %d (%.1f/10). Try grind %.1f, %.1fg in, %.0fs.",
			r.BestSoFar.TrialNumber, r.BestSoFar.Score, r.Grind, r.Dose, r.TargetTime)
	default:
		return fmt.Sprintf("Converged: trial %d scored %.1f/10. You can stop here or try grind %.1f, %.1fg in, %.0fs.",
			r.BestSoFar.TrialNumber, r.BestSoFar.Score, r.Grind, r.Dose, r.TargetTime)
	}
}
