package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestShutdown_RunsInOrder(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	gs.RegisterShutdownFunc("store", record("store"), OrderCloseStores)
	gs.RegisterShutdownFunc("http", record("http"), OrderStopHTTPServer)
	gs.RegisterCloser("output", closerFunc(func() error {
		return record("output")(context.Background())
	}), OrderFlushOutput)
	gs.RegisterShutdownFunc("failing", func(context.Context) error {
		return errors.New("boom")
	}, OrderCloseConnections)

	assert.Equal(t, []string{"http", "output", "failing", "store"}, gs.GetRegisteredFunctions())

	gs.Shutdown()
	gs.Wait()

	assert.Equal(t, []string{"http", "output", "store"}, order)
	assert.True(t, gs.IsShuttingDown())
	assert.Error(t, gs.Context().Err())

	// 重复调用不会再次执行
	gs.Shutdown()
	assert.Len(t, order, 3)
}

func TestShutdown_Timeout(t *testing.T) {
	gs := NewGracefulShutdown(50*time.Millisecond, quietLogger())

	var ranLast bool
	gs.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, OrderStopHTTPServer)
	gs.RegisterShutdownFunc("last", func(context.Context) error {
		ranLast = true
		return nil
	}, OrderCloseStores)

	gs.Shutdown()
	gs.Wait()
	assert.False(t, ranLast)
}

func TestShutdown_Signal(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())

	called := make(chan struct{})
	gs.RegisterShutdownFunc("http", func(context.Context) error {
		close(called)
		return nil
	}, OrderStopHTTPServer)

	gs.Start()
	gs.signalChan <- syscall.SIGTERM

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("停机函数未执行")
	}
	gs.Wait()
}
