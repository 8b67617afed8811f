package audio

// Drain reads from ch until it is closed and discards the values. Callers
// use it after closing a [Source] so the device goroutine can finish its
// final send.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
