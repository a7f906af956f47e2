package os

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type logger interface {
	Info(msg string, keyvals ...interface{})
}

// TrapSignal catches SIGTERM and SIGINT and cancels the returned context so
// that deferred teardown in the caller still runs. A second signal exits
// immediately with a value that is greater than 128.
func TrapSignal(parent context.Context, logger logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)

		select {
		case sig := <-sigs:
			logger.Info("signal trapped, tearing down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}

		sig := <-sigs
		exitCode := 128
		switch sig {
		case syscall.SIGINT:
			exitCode += int(syscall.SIGINT)
		case syscall.SIGTERM:
			exitCode += int(syscall.SIGTERM)
		}
		os.Exit(exitCode)
	}()

	return ctx, cancel
}

// Kill the running process by sending itself SIGTERM.
func Kill() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

func EnsureDir(dir string, mode os.FileMode) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.MkdirAll(dir, mode)
		if err != nil {
			return fmt.Errorf("could not create directory %v: %w", dir, err)
		}
	}
	return nil
}

// ResetDirs removes every directory in dirs, with its contents, and creates it
// again empty.
func ResetDirs(mode os.FileMode, dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" || dir == "/" {
			return fmt.Errorf("refusing to reset directory %q", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("could not remove directory %v: %w", dir, err)
		}
		if err := EnsureDir(dir, mode); err != nil {
			return err
		}
	}
	return nil
}

func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}
