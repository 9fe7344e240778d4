package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects component names in shutdown order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) component(name string, delay time.Duration, err error) Component {
	return NewFuncComponent(name, func(ctx context.Context) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return err
	})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// **Components stop newest first, exactly once**
// For any number of registered components, a shutdown triggered by a signal
// stops each of them exactly once in reverse registration order, and repeated
// shutdowns change nothing.
func TestPropertyLIFOShutdown(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("components stop in reverse registration order", prop.ForAll(
		func(n int) bool {
			rec := &recorder{}
			sigCh := make(chan os.Signal, 1)
			c := NewCoordinator(WithTimeout(time.Second), WithLogger(quietLogger()), WithSignalChannel(sigCh))

			var want []string
			for i := 0; i < n; i++ {
				name := string(rune('a' + i))
				c.Register(rec.component(name, 0, nil))
				want = append([]string{name}, want...)
			}

			sigCh <- syscall.SIGTERM
			c.WaitForSignal(context.Background())
			c.Shutdown()
			c.Wait()

			got := rec.names()
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return c.ExitCode() == 0 && c.Err() == nil
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestShutdownOnContextCancel(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(WithLogger(quietLogger()), WithSignalChannel(make(chan os.Signal)))
	c.Register(rec.component("store", 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.WaitForSignal(ctx)

	assert.Equal(t, []string{"store"}, rec.names())
	assert.Equal(t, 0, c.ExitCode())
}

func TestShutdownCollectsErrors(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	c := NewCoordinator(WithTimeout(time.Second), WithLogger(quietLogger()))
	c.Register(rec.component("store", 0, nil))
	c.Register(rec.component("api", 0, boom))

	c.Shutdown()

	assert.Equal(t, []string{"api", "store"}, rec.names())
	require.ErrorIs(t, c.Err(), boom)
	assert.Equal(t, 0, c.ExitCode())
}

func TestShutdownTimeoutForcesExit(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(WithTimeout(30*time.Millisecond), WithLogger(quietLogger()))
	c.Register(rec.component("store", 0, nil))
	c.Register(rec.component("slow", time.Second, nil))

	start := time.Now()
	c.Shutdown()

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, c.ExitCode())
	assert.Empty(t, rec.names())
}

type stopper struct{ stopped bool }

func (s *stopper) Stop() { s.stopped = true }

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestComponentAdapters(t *testing.T) {
	w := &stopper{}
	cl := &closer{}
	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(NewCloserComponent("store", cl))
	c.Register(NewWorkerComponent("dispatcher", w))

	c.Shutdown()

	assert.True(t, w.stopped)
	assert.True(t, cl.closed)
}
