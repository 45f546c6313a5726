package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Pointer[zap.Logger]

// Init instala el logger global. Solo la primera llamada tiene efecto.
func Init(cfg Config) {
	global.CompareAndSwap(nil, build(cfg))
}

// L devuelve el logger global (dev/info si nadie llamó a Init).
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	Init(Config{})
	return global.Load()
}

// Named devuelve el global con un nombre de subsistema (ej: "trust").
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Replace sustituye el global (tests) y devuelve cómo restaurarlo.
func Replace(l *zap.Logger) func() {
	prev := global.Swap(l)
	return func() { global.Store(prev) }
}

// Sync flushea el global; llamar con defer en main.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
