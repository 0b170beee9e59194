//go:build linux

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/kallidar/afpacket-bridge/afpacket"
	"github.com/kallidar/afpacket-bridge/ifacestat"
)

// Config is the YAML configuration for a standalone bridge/tap host: which
// interfaces to bind, the capture parameters, and the filter expression
// applied to everything it receives.
type Config struct {
	Device     string `yaml:"device"`
	Passive    bool   `yaml:"passive"`
	Snaplen    int    `yaml:"snaplen"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	BufferSize string `yaml:"buffer_size_mb"`
	Debug      bool   `yaml:"debug"`
	FanoutType string `yaml:"fanout_type"`
	FanoutFlag string `yaml:"fanout_flag"`

	FilterExpr string `yaml:"filter"`
	FilterFile string `yaml:"filter_file"` // optional; hot-reloaded via fsnotify
}

func loadConfig() (*Config, error) {
	fConfig := flag.String("config", "bridge.yaml", "path to config YAML file")
	fDevice := flag.String("d", "", "override device spec")
	fDebug := flag.Bool("debug", false, "override debug logging")
	flag.Parse()

	b, err := os.ReadFile(*fConfig)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var conf Config
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if *fDevice != "" {
		conf.Device = *fDevice
	}
	if *fDebug {
		conf.Debug = true
	}
	if conf.Device == "" {
		return nil, fmt.Errorf("device must be set")
	}
	if conf.Snaplen == 0 {
		conf.Snaplen = 65535
	}
	if conf.TimeoutMS == 0 {
		conf.TimeoutMS = 1000
	}
	return &conf, nil
}

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

func main() {
	conf, err := loadConfig()
	fatalIf(err, "reading config")

	logger := zap.NewNop()
	if conf.Debug {
		l, err := zap.NewDevelopment()
		fatalIf(err, "building logger")
		logger = l
	}
	defer logger.Sync()

	caps := afpacket.HostCapabilities{CompileFilter: compileSimpleFilter}

	ctx, err := afpacket.Initialize(afpacket.Config{
		DeviceSpec:   conf.Device,
		Passive:      conf.Passive,
		Snaplen:      conf.Snaplen,
		TimeoutMS:    conf.TimeoutMS,
		BufferSizeMB: conf.BufferSize,
		Debug:        conf.Debug,
		FanoutType:   conf.FanoutType,
		FanoutFlag:   conf.FanoutFlag,
	}, caps)
	fatalIf(err, "initializing context")

	if conf.FilterExpr != "" {
		fatalIf(ctx.SetFilter(conf.FilterExpr), "applying filter %q", conf.FilterExpr)
	}

	var watcher *fsnotify.Watcher
	if conf.FilterFile != "" {
		watcher, err = watchFilterFile(ctx, conf.FilterFile, logger)
		fatalIf(err, "watching filter file %q", conf.FilterFile)
		defer watcher.Close()
	}

	fatalIf(ctx.Start(), "starting context")

	statsBefore, err := snapshotIfaces(conf.Device)
	fatalIf(err, "taking interface stats (before)")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		ctx.BreakLoop()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runLoop(ctx, logger)
	}()
	wg.Wait()

	fatalIf(ctx.Stop(), "stopping context")

	printReport(ctx, conf.Device, statsBefore, logger)

	fatalIf(ctx.Shutdown(), "shutting down context")
}

// runLoop is the simplest possible host: receive every message, log it at
// debug level, and pass it straight through. A real IDS/IPS host plugs its
// own detection engine in where the PASS verdict is chosen below.
func runLoop(ctx *afpacket.Context, logger *zap.Logger) {
	for {
		msg, err := ctx.ReceiveMessage()
		if err != nil {
			logger.Warn("receive error", zap.Error(err))
			continue
		}
		if msg == nil {
			return // break-loop was set
		}

		logger.Debug("received frame",
			zap.Int("caplen", msg.Header.CapLen),
			zap.Int("wirelen", msg.Header.WireLen),
			zap.Int("ingress", msg.Header.IngressIndex),
		)

		if err := ctx.FinalizeMessage(msg, afpacket.VerdictPass); err != nil {
			logger.Warn("finalize error", zap.Error(err))
		}
	}
}

// watchFilterFile hot-reloads a filter expression: whenever the file is
// written, re-read it and call SetFilter again. SetFilter's success-only
// commit means a bad edit simply fails to apply instead of disabling
// filtering entirely.
func watchFilterFile(ctx *afpacket.Context, path string, logger *zap.Logger) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for event := range w.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("re-reading filter file", zap.Error(err))
				continue
			}
			if err := ctx.SetFilter(string(b)); err != nil {
				logger.Warn("applying reloaded filter", zap.Error(err))
				continue
			}
			logger.Info("filter reloaded", zap.String("path", path))
		}
	}()

	return w, nil
}

func snapshotIfaces(deviceSpec string) (ifacestat.Stats, error) {
	ifaces := splitDeviceNames(deviceSpec)
	return ifacestat.Snapshot(ifaces,
		ifacestat.TxPackets, ifacestat.TxBytes, ifacestat.RxPackets, ifacestat.RxBytes)
}

func splitDeviceNames(spec string) []string {
	var names []string
	cur := ""
	for _, r := range spec {
		if r == ':' {
			if cur != "" {
				names = append(names, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		names = append(names, cur)
	}
	return names
}

func printReport(ctx *afpacket.Context, deviceSpec string, before ifacestat.Stats, logger *zap.Logger) {
	stats := ctx.Stats()

	p := message.NewPrinter(language.English)
	p.Printf("\nFINAL REPORT\n")
	p.Printf(" HW packets received: %d\n", stats.HWPacketsReceived)
	p.Printf(" HW packets dropped:  %d\n", stats.HWPacketsDropped)
	p.Printf(" Packets filtered:    %d\n", stats.PacketsFiltered)
	p.Printf(" Packets injected:    %d\n", stats.PacketsInjected)
	for v := afpacket.VerdictPass; v <= afpacket.VerdictRetry; v++ {
		if n := stats.Verdicts[v]; n > 0 {
			p.Printf(" Verdict %-10s %d\n", v, n)
		}
	}

	after, err := snapshotIfaces(deviceSpec)
	if err != nil {
		logger.Warn("taking interface stats (after)", zap.Error(err))
		return
	}
	deltas := after.Since(before)
	fmt.Fprintln(os.Stderr, "\nINTERFACE COUNTERS:")
	_ = ifacestat.Print(os.Stderr, deltas, nil, ctx.RingDropsByName())
}
