package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives on notify or done is closed. On a signal it runs
// callback and then waits up to timeout for done to be closed before returning.
func ListenForShutdown(notify chan os.Signal, done chan bool, callback func(), timeout time.Duration, logger *zap.Logger) {
	select {
	case sig := <-notify:
		logger.Sugar().Infow("Received shutdown signal", "signal", sig.String())
	case <-done:
		logger.Sugar().Infow("Service exited")
		return
	}

	callback()

	select {
	case <-done:
		logger.Sugar().Infow("Graceful shutdown complete")
	case <-time.After(timeout):
		logger.Sugar().Warnw("Shutdown timed out, exiting", "timeout", timeout.String())
	}
}
