// Package otlog builds the per-subsystem loggers used across the engine.
package otlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	devMode = true
)

// SetDevelopment toggles between the console-encoded development logger and
// the JSON production logger. Must be called before the first New.
func SetDevelopment(dev bool) {
	mu.Lock()
	defer mu.Unlock()
	devMode = dev
	base = nil
}

func rootLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return base
	}
	var l *zap.Logger
	var err error
	if devMode {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewNop()
	}
	base = l
	return base
}

// New returns a sugared logger scoped to the named subsystem, e.g.
// otlog.New("block"), otlog.New("wal").
func New(subsystem string) *zap.SugaredLogger {
	return rootLogger().Sugar().Named(subsystem)
}
