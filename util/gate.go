package util

// A Gate bounds concurrency. Each gate admits at most n goroutines at a
// time. A goroutine enters the protected section by calling Enter() and
// signals that it is finished by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate admitting at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks the calling goroutine until fewer than n goroutines are
// inside the gate. It is safe to call from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave marks a goroutine outside the protected section. Every call to
// Enter must be balanced by a call to Leave. The two calls do not need to
// come from the same goroutine.
func (g Gate) Leave() {
	<-g
}
