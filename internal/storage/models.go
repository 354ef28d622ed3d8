package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trial sources.
const (
	SourcePolicy    = "policy"
	SourceOptimizer = "optimizer"
	SourceShot      = "shot"
)

// StudyKey names the study of a (bean, method) partition. A non-empty
// userID scopes the study to that user.
func StudyKey(userID, beanID, method string) string {
	if userID != "" {
		return fmt.Sprintf("user_%s_bean_%s_%s", userID, beanID, method)
	}
	return fmt.Sprintf("bean_%s_%s", beanID, method)
}

// Trial is one proposed parameter set and, once brewed, its outcome.
type Trial struct {
	Study       string  `json:"studyName"`
	BeanID      string  `json:"beanId"`
	Method      string  `json:"method"`
	TrialNumber int     `json:"trialNumber"`
	Grind       float64 `json:"grind"`
	Dose        float64 `json:"dose"`
	TargetTime  float64 `json:"targetTime"`

	// ObservedScore is nil while the trial is pending.
	ObservedScore *float64 `json:"observedScore"`
	ObservedTime  *float64 `json:"observedTime,omitempty"`
	ObservedYield *float64 `json:"observedYield,omitempty"`

	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"createdAt"`
	ScoredAt  *time.Time `json:"scoredAt,omitempty"`
}

// Scored reports whether the trial has an observed score.
func (t Trial) Scored() bool {
	return t.ObservedScore != nil
}

// Score returns the observed score, or 0 for a pending trial.
func (t Trial) Score() float64 {
	if t.ObservedScore == nil {
		return 0
	}
	return *t.ObservedScore
}

// Observation is the measured outcome of a brewed trial. Grind and Dose,
// when set, replace the proposed values with the ones actually brewed.
type Observation struct {
	Score float64
	Time  *float64
	Yield *float64
	Grind *float64
	Dose  *float64
}

// ShotEntry is one archived shot with the prediction made for it.
type ShotEntry struct {
	ShotID         string          `json:"shotId"`
	BeanID         string          `json:"beanId"`
	Method         string          `json:"method"`
	Payload        json.RawMessage `json:"payload"`
	PredictedScore float64         `json:"predictedScore"`
	Confidence     float64         `json:"confidence"`
	CreatedAt      time.Time       `json:"createdAt"`
}
