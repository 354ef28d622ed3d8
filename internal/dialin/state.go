package dialin

import (
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// State is the stage of a dial-in session.
type State string

const (
	StateCold      State = "cold"
	StateExploring State = "exploring"
	StateRefining  State = "refining"
	StateConverged State = "converged"
)

// Thresholds drive the state machine.
type Thresholds struct {
	// RefineMinTrials is the scored-trial count needed for regular refinement.
	RefineMinTrials int `json:"refineMinTrials"`

	// RefineMinScore is the best score needed to leave exploration.
	RefineMinScore float64 `json:"refineMinScore"`

	// ConvergedScore is the best score considered great.
	ConvergedScore float64 `json:"convergedScore"`
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{RefineMinTrials: 5, RefineMinScore: 7.0, ConvergedScore: 8.5}
}

// Classify derives the session state from its history. Only scored trials
// count.
//
//	no scored trials                          cold
//	best >= converged, scored >= min trials   converged
//	best >= refine,    scored >= min trials   refining
//	best >= converged, fewer trials           refining
//	anything else                             exploring
//
// A low-scoring session keeps exploring however long it runs.
func Classify(trials []storage.Trial, th Thresholds) State {
	scored := scoredTrials(trials)
	if len(scored) == 0 {
		return StateCold
	}
	best := bestOf(scored).Score()

	enough := len(scored) >= th.RefineMinTrials
	switch {
	case enough && best >= th.ConvergedScore:
		return StateConverged
	case enough && best >= th.RefineMinScore:
		return StateRefining
	case best >= th.ConvergedScore:
		return StateRefining
	default:
		return StateExploring
	}
}

func scoredTrials(trials []storage.Trial) []storage.Trial {
	out := make([]storage.Trial, 0, len(trials))
	for _, t := range trials {
		if t.Scored() {
			out = append(out, t)
		}
	}
	return out
}

// bestOf returns the highest scored trial, ties to the lowest trial number.
// scored must be non-empty.
func bestOf(scored []storage.Trial) storage.Trial {
	best := scored[0]
	for _, t := range scored[1:] {
		if better(t, best) {
			best = t
		}
	}
	return best
}

// topTwo returns the best and second-best scored trials.
func topTwo(scored []storage.Trial) (storage.Trial, *storage.Trial) {
	best := bestOf(scored)
	var second *storage.Trial
	for i := range scored {
		t := scored[i]
		if t.TrialNumber == best.TrialNumber {
			continue
		}
		if second == nil || better(t, *second) {
			second = &t
		}
	}
	return best, second
}

func better(a, b storage.Trial) bool {
	if a.Score() != b.Score() {
		return a.Score() > b.Score()
	}
	return a.TrialNumber < b.TrialNumber
}
