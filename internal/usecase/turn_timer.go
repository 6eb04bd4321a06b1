package usecase

import "time"

// turnTimer fires once per armed turn. It is only touched by the Run goroutine;
// a stale fire is filtered by the reducer's sequence check.
type turnTimer struct {
	timeout time.Duration
	fire    func(seq uint64)
	timer   *time.Timer
}

func (t *turnTimer) arm(seq uint64) {
	t.stop()
	if t.timeout <= 0 {
		return
	}
	t.timer = time.AfterFunc(t.timeout, func() {
		t.fire(seq)
	})
}

func (t *turnTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
