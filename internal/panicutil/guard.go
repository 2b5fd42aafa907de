package panicutil

import (
	"github.com/sourcegraph/conc/panics"
)

// Guard runs f and converts a panic into a *panics.ErrRecovered error.
// When f calls runtime.Goexit, onGoexit (if any) is called while the goroutine unwinds.
func Guard(f func() error, onGoexit func()) (err error) {
	var (
		returned  bool
		panicking bool
		value     panics.Recovered
	)
	defer func() {
		if returned {
			return
		}
		if panicking {
			err = value.AsError()
			return
		}
		if onGoexit != nil {
			onGoexit()
		}
	}()

	func() {
		defer func() {
			if !returned {
				value = panics.NewRecovered(2, recover())
			}
		}()
		err = f()
		returned = true
	}()
	panicking = !returned
	return err
}

// Call is Guard for functions without an error result.
func Call(f func()) error {
	return Guard(func() error {
		f()
		return nil
	}, nil)
}
