package os

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type logger interface {
	Info(msg string, keyvals ...interface{})
}

// TrapSignal catches SIGTERM and SIGINT and executes the clean up function
// before exiting with a value that is greater than 128.
func TrapSignal(logger logger, cleanupFunc func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		logger.Info("caught signal; shutting down", "signal", sig.String())

		if cleanupFunc != nil {
			cleanupFunc()
		}

		exitCode := 128

		switch sig {
		case syscall.SIGINT:
			exitCode += int(syscall.SIGINT)
		case syscall.SIGTERM:
			exitCode += int(syscall.SIGTERM)
		}

		os.Exit(exitCode)
	}()
}

// Exit prints s and terminates the process with a non-zero status.
func Exit(s string) {
	fmt.Printf(s + "\n")
	os.Exit(1)
}

// FileExists reports whether filePath names an existing file.
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}
