package events

// Recorder buffers emitted events until they are drained. The ledger hands a
// Recorder to the program while a transaction executes and only publishes the
// buffered events once the transaction commits.
type Recorder struct {
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.events = append(r.events, evt)
}

// Events returns the buffered events without clearing them.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Drain returns the buffered events and resets the recorder.
func (r *Recorder) Drain() []Event {
	out := r.events
	r.events = nil
	return out
}
