package session

import "time"

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// Clock supplies time and deferred calls to the Machine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}
