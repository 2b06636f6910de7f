package tracks

// Listener receives capture progress for the map/UI layer. Methods are
// called without controller locks held, from command or sampler goroutines;
// implementations must not block and must not call back into the
// controller's commands.
type Listener interface {
	StateChanged(Snapshot)
	PointAccepted(TrackPoint)
	SignalAdvisory(message string)
	CaptureCompleted(Completion)
	CaptureDiscarded(recordID string)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) StateChanged(Snapshot)       {}
func (NopListener) PointAccepted(TrackPoint)    {}
func (NopListener) SignalAdvisory(string)       {}
func (NopListener) CaptureCompleted(Completion) {}
func (NopListener) CaptureDiscarded(string)     {}
