// Package config loads the machine configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"tkernel/logger"
	"tkernel/pit"
	"tkernel/thread"
)

// clock sources
const (
	ClockVirtual  = "virtual"
	ClockRealtime = "realtime"
)

// console kinds
const (
	ConsoleSimple = "simple"
	ConsoleGui    = "gui"
)

// minPages covers the kernel page directory, the idle thread and one more
const minPages = 3

// Config describes one machine.
type Config struct {
	// TimerFreq is the number of timer interrupts per second
	TimerFreq int `toml:"timer_freq"`
	// TimeSlice is the number of ticks a thread runs before preemption
	TimeSlice int `toml:"time_slice"`
	// Pages is the size of the page pool; every thread takes one
	Pages int `toml:"pages"`
	// Policy is "rr" or "priority"
	Policy string `toml:"policy"`
	// Clock is "virtual" (ticks follow executed instructions) or
	// "realtime" (ticks follow the wall clock)
	Clock    string `toml:"clock"`
	LogLevel string `toml:"log_level"`
	// LogFile is appended to; empty logs to stdout
	LogFile string `toml:"log_file"`
	// Console is "gui" or "simple"
	Console string `toml:"console"`
	// Keyboard attaches stdin as the keyboard on IRQ 1
	Keyboard bool `toml:"keyboard"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		TimerFreq: 100,
		TimeSlice: thread.TimeSlice,
		Pages:     64,
		Policy:    "rr",
		Clock:     ClockVirtual,
		LogLevel:  "info",
		Console:   ConsoleGui,
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if c.TimerFreq < pit.MinFreq || c.TimerFreq > pit.MaxFreq {
		errs = append(errs, fmt.Errorf("timer_freq %d: %w", c.TimerFreq, pit.ErrFrequency))
	}
	if c.TimeSlice < 1 {
		errs = append(errs, fmt.Errorf("time_slice %d: must be positive", c.TimeSlice))
	}
	if c.Pages < minPages {
		errs = append(errs, fmt.Errorf("pages %d: need at least %d", c.Pages, minPages))
	}
	if _, err := thread.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Clock != ClockVirtual && c.Clock != ClockRealtime {
		errs = append(errs, fmt.Errorf("clock %q: want %q or %q", c.Clock, ClockVirtual, ClockRealtime))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Console != ConsoleSimple && c.Console != ConsoleGui {
		errs = append(errs, fmt.Errorf("console %q: want %q or %q", c.Console, ConsoleSimple, ConsoleGui))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
