// Package output drives the presence signal onto LEDs, GPIO lines and remote sinks.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"PresenceSensor/logger"

	"go.uber.org/zap"

	iface "PresenceSensor/interface"
)

const sysfsLEDRoot = "/sys/class/leds"

// LED drives a sysfs LED through its brightness attribute.
type LED struct {
	Path string
}

func NewLED(name string) *LED {
	return &LED{Path: filepath.Join(sysfsLEDRoot, name, "brightness")}
}

// Open checks that the brightness attribute is writable and turns the LED off.
func (l *LED) Open() error {
	if err := l.Set(false); err != nil {
		return iface.NewConfigError("led", err)
	}
	return nil
}

func (l *LED) Set(active bool) error {
	v := []byte("0")
	if active {
		v = []byte("1")
	}
	if err := os.WriteFile(l.Path, v, 0o644); err != nil {
		return fmt.Errorf("led %s: %w", l.Path, err)
	}
	return nil
}

// Log writes a line whenever the presence state changes.
type Log struct {
	mu    sync.Mutex
	last  bool
	known bool
	log   *zap.Logger
}

func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = logger.Log()
	}
	return &Log{log: l}
}

func (o *Log) Set(active bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.known && o.last == active {
		return nil
	}
	o.known, o.last = true, active
	o.log.Info("presence changed", zap.Bool("presence", active))
	return nil
}

// Multi fans one update out to every sink. All sinks are driven even if some fail.
type Multi []iface.Output

func (m Multi) Set(active bool) error {
	var errs []error
	for _, o := range m {
		if err := o.Set(active); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
