//go:build linux

package fatal

// failure carries a fatal message out of Catch's handler.
type failure struct{ msg string }

// Catch runs fn with a handler that unwinds instead of killing the process and
// reports the diagnostic of the first Fail fn triggered. It exists so tests can
// assert that a protocol violation is fatal.
func Catch(fn func()) (msg string, failed bool) {
	restore := SetHandler(func(m string) { panic(failure{m}) })
	defer restore()

	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(failure)
			if !ok {
				panic(r)
			}
			msg, failed = f.msg, true
		}
	}()
	fn()
	return "", false
}
