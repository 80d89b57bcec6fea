package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tkernel/config"
	"tkernel/console"
	"tkernel/kernel"
	"tkernel/logger"
	"tkernel/thread"
)

// guiLogFile is used in gui mode when no log file is configured: the
// terminal belongs to the monitor.
const guiLogFile = "tkernel.log"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "TOML configuration file")
	simple := flag.Bool("simple", false, "write the console to stdout instead of the terminal UI")
	logFile := flag.String("log", "", "log file, overrides log_file")
	ticks := flag.Int64("ticks", 0, "power off after this many timer ticks, 0 runs until interrupted")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *simple {
		cfg.Console = config.ConsoleSimple
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if cfg.Console == config.ConsoleGui && cfg.LogFile == "" {
		cfg.LogFile = guiLogFile
	}

	log, closer, err := logger.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	w := &workload{ticks: *ticks}
	if cfg.Console == config.ConsoleSimple {
		return runSimple(cfg, log, w)
	}
	return runGui(cfg, log, w)
}

// runSimple runs the kernel on stdout until it stops or SIGINT arrives.
func runSimple(cfg config.Config, log zerolog.Logger, w *workload) error {
	k, err := kernel.New(cfg, console.NewSimple(os.Stdout), log)
	if err != nil {
		return err
	}
	if cfg.Keyboard {
		k.AttachKeyboard(os.Stdin)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		k.PowerOff()
	}()
	return k.Run(w.main)
}

// runGui runs the kernel behind the gocui monitor. The machine keeps its
// output on screen after it stops; Ctrl-C leaves.
func runGui(cfg config.Config, log zerolog.Logger, w *workload) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("couldn't create gui: %w", err)
	}
	defer g.Close()
	g.SetManagerFunc(layout)

	con := console.NewGui(g, "console")
	k, err := kernel.New(cfg, con, log)
	if err != nil {
		return err
	}

	quit := func(g *gocui.Gui, v *gocui.View) error {
		return gocui.ErrQuit
	}
	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return k.Run(w.main)
	})
	eg.Go(func() error {
		monitor(ctx, g, k)
		return nil
	})

	loopErr := g.MainLoop()
	con.Close()
	k.PowerOff()
	cancel()
	err = eg.Wait()

	if loopErr != nil && !errors.Is(loopErr, gocui.ErrQuit) {
		return loopErr
	}
	return err
}

// monitor refreshes the thread table and the status line once a second
// until ctx is done. It only reads state that is safe from outside the
// machine.
func monitor(ctx context.Context, g *gocui.Gui, k *kernel.Kernel) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		threads := k.Sched.Threads()
		stats := k.Sched.Stats()
		uptime := k.Timer.Uptime()
		g.Update(func(g *gocui.Gui) error {
			v, err := g.View("threads")
			if err != nil {
				return err
			}
			v.Clear()
			fmt.Fprintf(v, "%4s  %-16s %-8s %4s %s\n", "TID", "NAME", "STATUS", "PRI", "MODE")
			for _, t := range threads {
				mode := "kernel"
				if t.User {
					mode = "user"
				}
				fmt.Fprintf(v, "%4d  %-16s %-8s %4d %s\n", t.ID, t.Name, t.Status, t.Priority, mode)
			}

			s, err := g.View("status")
			if err != nil {
				return err
			}
			s.Clear()
			fmt.Fprintf(s, "ticks %d (%ds)  idle %d kernel %d user %d  timer irqs %d  free pages %d/%d  cr3 loads %d\n",
				uptime, uptime/int64(k.Config().TimerFreq),
				stats.IdleTicks, stats.KernelTicks, stats.UserTicks,
				k.Intr.Count(0x20), k.Pool.Free(), k.Pool.Size(), k.MMU.Loads())
			return nil
		})
	}
}

// gocui layout
func layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	// up -> console
	if v, err := g.SetView("console", 0, 0, maxX-1, maxY-16); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Console"
		v.Autoscroll = true
		v.Wrap = true
	}
	// middle -> thread table
	if v, err := g.SetView("threads", 0, maxY-15, maxX-1, maxY-4); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Threads"
	}
	// down -> status
	if v, err := g.SetView("status", 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}
	return nil
}

// workload is the demo the machine runs after boot.
type workload struct {
	ticks int64
}

func (w *workload) main(k *kernel.Kernel) {
	con := k.Console()
	_ = con.WriteConsole(fmt.Sprintf("tkernel: %d Hz, %s scheduling, %d pages",
		k.Timer.Freq(), k.Sched.Policy(), k.Pool.Size()))

	for i, n := range []int64{10, 20, 5} {
		name := fmt.Sprintf("sleeper-%d", i)
		if _, err := k.Sched.Create(name, thread.PriDefault, w.sleeper(k), n); err != nil {
			_ = con.WriteConsole(err.Error())
		}
	}
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("spinner-%d", i)
		if _, err := k.Sched.Create(name, thread.PriDefault-1, w.spinner(k), nil); err != nil {
			_ = con.WriteConsole(err.Error())
		}
	}
	if _, err := k.CreateProcess("user", thread.PriDefault, w.process(k), nil); err != nil {
		_ = con.WriteConsole(err.Error())
	}
	if k.Kbd != nil {
		if _, err := k.Sched.Create("echo", thread.PriMax, w.echo(k), nil); err != nil {
			_ = con.WriteConsole(err.Error())
		}
	}

	every := int64(5 * k.Timer.Freq())
	for {
		k.Timer.Sleep(every)
		k.PrintStats()
		if w.ticks > 0 && k.Timer.Ticks() >= w.ticks {
			return
		}
	}
}

// sleeper sleeps n ticks at a time and reports its worst wake-up delay
// every 100 rounds.
func (w *workload) sleeper(k *kernel.Kernel) thread.Func {
	return func(aux any) {
		n := aux.(int64)
		var worst int64
		for round := 1; ; round++ {
			start := k.Timer.Ticks()
			k.Timer.Sleep(n)
			worst = max(worst, k.Timer.Elapsed(start)-n)
			if round%100 == 0 {
				_ = k.Console().WriteConsole(fmt.Sprintf("%s: %d rounds, worst delay %d ticks",
					k.Sched.Name(), round, worst))
				worst = 0
			}
		}
	}
}

// spinner burns its time slices.
func (w *workload) spinner(k *kernel.Kernel) thread.Func {
	return func(any) {
		for {
			k.CPU.Spin(1000)
		}
	}
}

// process runs in its own address space, alternating work and short
// sleeps, and exits after a while.
func (w *workload) process(k *kernel.Kernel) thread.Func {
	return func(any) {
		for i := 0; i < 100; i++ {
			k.CPU.Spin(5000)
			k.Timer.MSleep(20)
		}
		_ = k.Console().WriteConsole(k.Sched.Name() + ": done")
	}
}

// echo copies keyboard input to the console.
func (w *workload) echo(k *kernel.Kernel) thread.Func {
	return func(any) {
		for {
			b := k.Kbd.Getc()
			fmt.Fprintf(k.Console(), "%c", b)
		}
	}
}
