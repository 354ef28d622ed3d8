package spawner

// PredictRequest carries one ordered feature vector.
type PredictRequest struct {
	Features []string  `json:"features"`
	Values   []float64 `json:"values"`
}

// PredictResponse is the model's answer. Confidence is optional.
type PredictResponse struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Range is an inclusive parameter range with its step grid.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// SearchSpace bounds a suggestion.
type SearchSpace struct {
	Grind      Range `json:"grind"`
	Dose       Range `json:"dose"`
	TargetTime Range `json:"targetTime"`
}

// TrialPoint is one past trial as seen by the optimizer. Score is nil for
// pending trials.
type TrialPoint struct {
	TrialNumber int      `json:"trialNumber"`
	Grind       float64  `json:"grind"`
	Dose        float64  `json:"dose"`
	TargetTime  float64  `json:"targetTime"`
	Score       *float64 `json:"score"`
}

// SuggestRequest asks for the next point of a study.
type SuggestRequest struct {
	Study   string       `json:"study"`
	Method  string       `json:"method"`
	Space   SearchSpace  `json:"space"`
	History []TrialPoint `json:"history"`
}

// SuggestResponse is the optimizer's proposal.
type SuggestResponse struct {
	Grind      float64 `json:"grind"`
	Dose       float64 `json:"dose"`
	TargetTime float64 `json:"targetTime"`
}
