package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// SetupGracefulShutdown cancels the root context on SIGINT or SIGTERM.
func SetupGracefulShutdown(cancel context.CancelFunc, logger *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Infow("received signal, shutting down", "signal", s.String())
		signal.Stop(sigCh)
		cancel()
	}()
}
