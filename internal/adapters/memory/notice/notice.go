package notice

import (
	"sync"

	"github.com/shomaj/neighborhood-client/internal/ports/out/notice"
)

// Recorder is a notice.Sink that keeps every posted notice.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []notice.Notice
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Post(n notice.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []notice.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice.Notice(nil), r.notices...)
}

// Drain returns and forgets every notice posted so far.
func (r *Recorder) Drain() []notice.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}
