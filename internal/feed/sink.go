//go:generate go run go.uber.org/mock/mockgen -source=sink.go -destination=../../mocks/mock_sink.go -package=mocks

package feed

// Sink receives updates for subscribed items. Implementations are called
// from the goroutine that emitted the event and must not block for long.
type Sink interface {
	Update(item string, event map[string]string, isSnapshot bool)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(item string, event map[string]string, isSnapshot bool)

// Update calls f.
func (f SinkFunc) Update(item string, event map[string]string, isSnapshot bool) {
	f(item, event, isSnapshot)
}
