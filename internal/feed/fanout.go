package feed

// Fanout forwards every update to each of its sinks in order. It gives no
// delivery guarantee beyond calling each sink once.
type Fanout []Sink

// Update implements Sink.
func (f Fanout) Update(item string, event map[string]string, isSnapshot bool) {
	for _, sink := range f {
		sink.Update(item, event, isSnapshot)
	}
}
