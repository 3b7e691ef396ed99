package transfer

// Atomic rename over an existing file is not supported on Windows, so downloads there
// always write in place.
func newAtomicSink(path string) (sink, error) {
	return newFileSink(path)
}
