package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Notifier receives human-readable progress lines. Delivery is best effort and never
// affects the outcome of an action.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Func adapts a plain function.
type Func func(ctx context.Context, message string)

func (f Func) Notify(ctx context.Context, message string) { f(ctx, message) }

type logNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) Notifier {
	if logger == nil {
		return Nop{}
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(_ context.Context, message string) {
	n.logger.WithField("component", "notify").Info(message)
}

type writerNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier prints one line per message to w.
func NewWriterNotifier(w io.Writer) Notifier {
	if w == nil {
		return Nop{}
	}
	return &writerNotifier{w: w}
}

func (n *writerNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.w, message)
}

// Multi fans a message out to every sink in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}
