/*
Package shotlog archives brewed shots in the background.

Archived shots only feed the predictor's data-volume confidence, so the
archive is best-effort: recording never blocks a dial-in call and a full
queue drops the event.
*/
package shotlog

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/khanglvm/espresso-dialin/internal/predictor"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// ShotEvent is one brewed shot together with the prediction made for it.
type ShotEvent struct {
	ShotID     string
	BeanID     string
	Method     string
	Shot       shot.ShotRecord
	Prediction predictor.Prediction
	Timestamp  time.Time
}

// NewShotEvent stamps a shot with a fresh ID and the current time.
func NewShotEvent(beanID, method string, s shot.ShotRecord, p predictor.Prediction) ShotEvent {
	return ShotEvent{
		ShotID:     uuid.New().String(),
		BeanID:     beanID,
		Method:     method,
		Shot:       s,
		Prediction: p,
		Timestamp:  time.Now(),
	}
}

// ToStorage converts the event to its archive row.
func (e ShotEvent) ToStorage() storage.ShotEntry {
	payload, err := json.Marshal(e.Shot)
	if err != nil {
		log.Printf("Warning: failed to encode shot %s: %v", e.ShotID, err)
		payload = []byte("{}")
	}
	return storage.ShotEntry{
		ShotID:         e.ShotID,
		BeanID:         e.BeanID,
		Method:         e.Method,
		Payload:        payload,
		PredictedScore: e.Prediction.Score,
		Confidence:     e.Prediction.Confidence,
		CreatedAt:      e.Timestamp,
	}
}
