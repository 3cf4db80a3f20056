package optimization

import "time"

// EventType identifies what an Event reports.
type EventType string

const (
	EventStarted               EventType = "started"
	EventStep                  EventType = "step"
	EventLearningRateChanged   EventType = "learning_rate_changed"
	EventRegularizationApplied EventType = "regularization_applied"
	EventCompleted             EventType = "completed"
	EventFailed                EventType = "failed"
	EventCancelled             EventType = "cancelled"
)

// Event is delivered to observers. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	ContextID string
	Method    string
	Time      time.Time

	Step   *Step
	Result *Result
	Err    error

	// Learning-rate change.
	Iteration       int
	OldLearningRate float64
	LearningRate    float64

	// Regularization.
	Penalty float64
}

// Observer receives engine events. Events of one context are delivered
// synchronously on the goroutine running it, in iteration order.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans an event out to each non-nil observer.
type Observers []Observer

// OnEvent implements Observer.
func (os Observers) OnEvent(e Event) {
	for _, o := range os {
		if o != nil {
			o.OnEvent(e)
		}
	}
}
