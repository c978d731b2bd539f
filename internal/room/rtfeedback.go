package room

import "github.com/tinkertanker/classroom-widgets-sub001/pkg/types"

const feedbackScale = 5

// FeedbackSummary is the host's histogram of current feedback values
type FeedbackSummary struct {
	WidgetID string  `json:"widgetId"`
	IsActive bool    `json:"isActive"`
	Counts   []int   `json:"counts"`
	Total    int     `json:"total"`
	Average  float64 `json:"average"`
	MyValue  *int    `json:"myValue,omitempty"`
}

// RTFeedback keeps the latest 1..5 value from each participant
type RTFeedback struct {
	base
	values map[string]int
}

func newRTFeedback(b base) *RTFeedback {
	return &RTFeedback{base: b, values: make(map[string]int)}
}

func (r *RTFeedback) ResponseCount() int { return len(r.values) }

func (r *RTFeedback) SetActive(active bool, em Emitter) {
	r.active = active
	em.ToHost(types.EventRTFeedbackUpdate, r.summary())
}

func (r *RTFeedback) Submit(m Member, value int, em Emitter) error {
	if err := r.openFor(m); err != nil {
		return err
	}
	if value < 1 || value > feedbackScale {
		return types.ErrInvalidFeedback
	}
	r.values[m.ConnectionID] = value
	em.ToHost(types.EventRTFeedbackUpdate, r.summary())
	return nil
}

func (r *RTFeedback) Reset(em Emitter) {
	r.values = make(map[string]int)
	em.ToHost(types.EventRTFeedbackUpdate, r.summary())
}

// Forget drops a departed participant's value so the histogram tracks
// the people still in the room
func (r *RTFeedback) Forget(connectionID string, em Emitter) {
	if _, ok := r.values[connectionID]; !ok {
		return
	}
	delete(r.values, connectionID)
	em.ToHost(types.EventRTFeedbackUpdate, r.summary())
}

func (r *RTFeedback) State(m Member) interface{} {
	summary := r.summary()
	if m.IsHost {
		return summary
	}
	own := FeedbackSummary{WidgetID: summary.WidgetID, IsActive: summary.IsActive, Counts: []int{}}
	if value, ok := r.values[m.ConnectionID]; ok {
		own.MyValue = &value
	}
	return own
}

func (r *RTFeedback) summary() FeedbackSummary {
	counts := make([]int, feedbackScale)
	sum := 0
	for _, value := range r.values {
		counts[value-1]++
		sum += value
	}
	summary := FeedbackSummary{
		WidgetID: r.key.WidgetID,
		IsActive: r.active,
		Counts:   counts,
		Total:    len(r.values),
	}
	if summary.Total > 0 {
		summary.Average = float64(sum) / float64(summary.Total)
	}
	return summary
}
