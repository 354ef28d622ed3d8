package dialin

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"

	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// SuggestQuery is what an optimization backend sees.
type SuggestQuery struct {
	Study   string
	Method  string
	Profile Profile
	Bounds  Bounds
	Trials  []storage.Trial
}

// Optimizer is an optional external optimization backend.
type Optimizer interface {
	Suggest(ctx context.Context, q SuggestQuery) (Params, error)
}

// Proposal is the next parameter set and the state it was made in.
type Proposal struct {
	Params
	State     State  `json:"state"`
	Converged bool   `json:"converged"`
	Source    string `json:"source"`
}

// Recommender proposes the next trial from history alone. It holds no
// per-session state.
type Recommender struct {
	cfg       Config
	optimizer Optimizer
}

// NewRecommender creates a Recommender. opt may be nil.
func NewRecommender(cfg Config, opt Optimizer) *Recommender {
	return &Recommender{cfg: cfg.withDefaults(), optimizer: opt}
}

// Profile returns the profile of method.
func (r *Recommender) Profile(method string) (Profile, bool) {
	p, ok := r.cfg.Profiles[method]
	return p, ok
}

// Propose returns the next parameters for a study. It fails only for an
// unknown method; a failing backend falls back to the deterministic policy.
func (r *Recommender) Propose(ctx context.Context, study, method string, trials []storage.Trial) (Proposal, error) {
	prof, ok := r.cfg.Profiles[method]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, method)
	}

	state := Classify(trials, r.cfg.Thresholds)
	prop := Proposal{State: state, Converged: state == StateConverged, Source: storage.SourcePolicy}

	if state != StateCold && r.optimizer != nil {
		p, err := r.suggest(ctx, SuggestQuery{
			Study:   study,
			Method:  method,
			Profile: prof,
			Bounds:  r.cfg.Bounds,
			Trials:  trials,
		})
		if err == nil {
			prop.Params = r.cfg.Bounds.snap(p, prof)
			prop.Source = storage.SourceOptimizer
			return prop, nil
		}
		r.cfg.Logger.Warn("optimization backend unavailable, using perturbation policy",
			"study", study, "state", string(state), "error", err)
	}

	live := liveTrials(trials)
	switch state {
	case StateCold:
		prop.Params = Params{Grind: prof.DefaultGrind, Dose: prof.DefaultDose, TargetTime: prof.BandMidpoint()}
	case StateExploring:
		prop.Params = r.explore(prof, live)
	default:
		prop.Params = r.refine(study, live, state == StateConverged)
	}
	prop.Params = r.cfg.Bounds.snap(prop.Params, prof)
	return prop, nil
}

// suggest calls the backend under BackendTimeout. A backend that ignores
// ctx still cannot hold the caller past the deadline.
func (r *Recommender) suggest(ctx context.Context, q SuggestQuery) (Params, error) {
	if r.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.BackendTimeout)
		defer cancel()
	}

	type result struct {
		p   Params
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := r.optimizer.Suggest(ctx, q)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Params{}, res.err
		}
		if !finite(res.p.Grind) || !finite(res.p.Dose) || !finite(res.p.TargetTime) {
			return Params{}, fmt.Errorf("backend returned non-finite parameters %+v", res.p)
		}
		return res.p, nil
	case <-ctx.Done():
		return Params{}, ctx.Err()
	}
}

// explore perturbs the best trial along grind first, then dose, with a step
// that shrinks as scored trials accumulate.
func (r *Recommender) explore(prof Profile, trials []storage.Trial) Params {
	b := r.cfg.Bounds
	scored := scoredTrials(trials)
	anchor := bestOf(scored)
	decay := math.Pow(r.cfg.StepDecay, float64(len(scored)-1))

	gstep := math.Max(r.cfg.ExploreGrindStep*decay, b.Grind.Step)
	dstep := math.Max(r.cfg.ExploreDoseStep*decay, b.Dose.Step)
	baseTime := observedOrTarget(anchor)
	mid := prof.BandMidpoint()

	predictTime := func(grind float64) float64 {
		return baseTime + r.cfg.SecondsPerGrindStep*(anchor.Grind-grind)
	}

	// Grind candidates: fewer nearby trials wins, then the predicted time
	// closer to the band midpoint, then the finer grind.
	pickGrind := func(step float64) (Params, int) {
		var best Params
		bestCount := -1
		for _, g := range []float64{anchor.Grind - step, anchor.Grind + step} {
			g = b.Grind.Snap(g)
			if g == anchor.Grind {
				continue
			}
			p := Params{Grind: g, Dose: anchor.Dose, TargetTime: predictTime(g)}
			n := r.nearby(trials, p)
			if bestCount < 0 || n < bestCount ||
				(n == bestCount && math.Abs(p.TargetTime-mid) < math.Abs(best.TargetTime-mid)) {
				best, bestCount = p, n
			}
		}
		return best, bestCount
	}

	gp, gn := pickGrind(gstep)
	if gn == 0 {
		return gp
	}

	// Both grind directions were tried at this step: perturb dose, ties
	// toward the default dose.
	var dp Params
	dn := -1
	for _, d := range []float64{anchor.Dose - dstep, anchor.Dose + dstep} {
		d = b.Dose.Snap(d)
		if d == anchor.Dose {
			continue
		}
		p := Params{Grind: anchor.Grind, Dose: d, TargetTime: baseTime}
		n := r.nearby(trials, p)
		if dn < 0 || n < dn ||
			(n == dn && math.Abs(d-prof.DefaultDose) < math.Abs(dp.Dose-prof.DefaultDose)) {
			dp, dn = p, n
		}
	}
	if dn == 0 {
		return dp
	}

	// Neighborhood exhausted: widen the grind step until something untried
	// turns up.
	for m := 2.0; m <= 8; m++ {
		if p, n := pickGrind(gstep * m); n == 0 {
			return p
		}
	}

	if p, ok := r.farthest(trials, predictTime); ok {
		return p
	}
	if gn < 0 {
		// Anchor pinned at a bound with nowhere to move grind.
		return Params{Grind: anchor.Grind, Dose: anchor.Dose, TargetTime: baseTime}
	}
	return gp
}

// farthest returns the grid point with the largest distance to its closest
// trial, distances measured in units of each range's width. Ties keep the
// first point in grind-major order. ok is false once every point is taken.
func (r *Recommender) farthest(trials []storage.Trial, predictTime func(float64) float64) (Params, bool) {
	b := r.cfg.Bounds
	gw := math.Max(b.Grind.Max-b.Grind.Min, 1e-9)
	dw := math.Max(b.Dose.Max-b.Dose.Min, 1e-9)

	doses := b.Dose.points()
	var best Params
	bestDist := 0.0
	for _, g := range b.Grind.points() {
		for _, d := range doses {
			p := Params{Grind: g, Dose: d}
			if r.nearby(trials, p) > 0 {
				continue
			}
			dist := math.Inf(1)
			for _, t := range trials {
				dist = math.Min(dist, math.Hypot((g-t.Grind)/gw, (d-t.Dose)/dw))
			}
			if dist > bestDist {
				p.TargetTime = predictTime(g)
				best, bestDist = p, dist
			}
		}
	}
	return best, bestDist > 0
}

// neighborOffsets are the unit moves in (grind, dose) step space.
var neighborOffsets = [][2]float64{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// refine searches the neighborhood of the best trial. The move follows the
// direction from the second-best to the best trial when there is one, and a
// seeded random direction otherwise.
func (r *Recommender) refine(study string, trials []storage.Trial, converged bool) Params {
	b := r.cfg.Bounds
	scored := scoredTrials(trials)
	best, second := topTwo(scored)

	exp := math.Max(0, float64(len(scored)-r.cfg.Thresholds.RefineMinTrials))
	decay := math.Pow(r.cfg.StepDecay, exp)
	gstep := r.cfg.RefineGrindStep * decay
	dstep := r.cfg.RefineDoseStep * decay
	if converged {
		gstep /= 2
		dstep /= 2
	}
	gstep = math.Max(gstep, b.Grind.Step)
	dstep = math.Max(dstep, b.Dose.Step)

	var moves [][2]float64
	if second != nil {
		ug, ud := sign(best.Grind-second.Grind), sign(best.Dose-second.Dose)
		if ug != 0 || ud != 0 {
			moves = append(moves, [2]float64{ug, ud})
			if ug != 0 && ud != 0 {
				moves = append(moves, [2]float64{ug, 0}, [2]float64{0, ud})
			}
		}
	}

	rng := rand.New(rand.NewSource(seedFor(study, len(scored))))
	shuffled := make([][2]float64, len(neighborOffsets))
	copy(shuffled, neighborOffsets)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	moves = append(moves, shuffled...)

	baseTime := observedOrTarget(best)
	var first *Params
	for _, mv := range moves {
		g := b.Grind.Snap(best.Grind + mv[0]*gstep)
		d := b.Dose.Snap(best.Dose + mv[1]*dstep)
		if g == best.Grind && d == best.Dose {
			continue
		}
		p := Params{
			Grind:      g,
			Dose:       d,
			TargetTime: baseTime + r.cfg.SecondsPerGrindStep*(best.Grind-g),
		}
		if first == nil {
			first = &p
		}
		if r.nearby(trials, p) == 0 {
			return p
		}
	}

	if first != nil {
		return *first
	}
	return Params{Grind: best.Grind, Dose: best.Dose, TargetTime: baseTime}
}

// liveTrials drops pending trials older than the newest scored trial. Those
// proposals were skipped and were never brewed.
func liveTrials(trials []storage.Trial) []storage.Trial {
	newest := 0
	for _, t := range trials {
		if t.Scored() && t.TrialNumber > newest {
			newest = t.TrialNumber
		}
	}
	out := make([]storage.Trial, 0, len(trials))
	for _, t := range trials {
		if t.Scored() || t.TrialNumber > newest {
			out = append(out, t)
		}
	}
	return out
}

// nearby counts trials (scored or pending) on the same grid point as p.
func (r *Recommender) nearby(trials []storage.Trial, p Params) int {
	gtol := math.Max(r.cfg.Bounds.Grind.Step/2, 1e-6)
	dtol := math.Max(r.cfg.Bounds.Dose.Step/2, 1e-6)
	n := 0
	for _, t := range trials {
		if math.Abs(t.Grind-p.Grind) < gtol && math.Abs(t.Dose-p.Dose) < dtol {
			n++
		}
	}
	return n
}

// seedFor makes the random fallback reproducible per study and history size.
func seedFor(study string, scored int) int64 {
	h := fnv.New64a()
	h.Write([]byte(study))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(scored)))
	return int64(h.Sum64() & math.MaxInt64)
}

func observedOrTarget(t storage.Trial) float64 {
	if t.ObservedTime != nil {
		return *t.ObservedTime
	}
	return t.TargetTime
}

func sign(v float64) float64 {
	switch {
	case v > 1e-9:
		return 1
	case v < -1e-9:
		return -1
	default:
		return 0
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
