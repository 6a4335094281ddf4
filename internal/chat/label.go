package chat

import (
	"sync"
	"time"
)

// Activity is the cosmetic status label shown while a response streams.
type Activity string

const (
	ActivityIdle        Activity = "idle"
	ActivityThinking    Activity = "thinking"
	ActivitySearching   Activity = "searching"
	ActivityVideoSearch Activity = "youtube_search"
)

const labelRotateInterval = 2500 * time.Millisecond

// activityState tracks the current label and notifies an optional listener.
type activityState struct {
	mu       sync.Mutex
	current  Activity
	listener func(Activity)
}

func newActivityState() *activityState {
	return &activityState{current: ActivityIdle}
}

func (a *activityState) set(v Activity) {
	a.mu.Lock()
	changed := a.current != v
	a.current = v
	l := a.listener
	a.mu.Unlock()
	if changed && l != nil {
		l(v)
	}
}

func (a *activityState) get() Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *activityState) onChange(l func(Activity)) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// startLabelTicker rotates the activity label for the lifetime of one
// streaming call. For search intents the label alternates between the
// search flavor and plain thinking; plain intent holds steady on thinking.
// The returned stop func must be called in the completion and failure paths
// so no ticker outlives its stream.
func (a *activityState) startLabelTicker(intent Intent) (stop func()) {
	flavor := ActivityThinking
	switch intent {
	case IntentWebSearch:
		flavor = ActivitySearching
	case IntentVideoSearch:
		flavor = ActivityVideoSearch
	}
	a.set(flavor)

	if flavor == ActivityThinking {
		return func() { a.set(ActivityIdle) }
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(labelRotateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if a.get() == flavor {
					a.set(ActivityThinking)
				} else {
					a.set(flavor)
				}
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
		a.set(ActivityIdle)
	}
}
