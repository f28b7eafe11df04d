// Command flashforgewebui-core is the process bootstrap: it parses the CLI
// surface, wires every component together, connects whatever printers the
// chosen mode names, and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/camera"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/configstore"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/connect"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/cooldown"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/flashforgeapi"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/monitor"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/polling"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerstore"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/spoolman"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/thumbnails"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/usage"
)

// Config is the process-level bootstrap configuration: env-sourced with the
// FFWEBUI_ prefix, some fields overridable by CLI flags. This is distinct
// from model.AppConfig, which is the user-mutable document the Config
// Store persists.
type Config struct {
	DataDir         string `envDefault:"data"`
	WebUIPort       int    `envDefault:"8080"`
	WebUIPassword   string
	SpoolmanBaseURL string
}

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "FFWEBUI_", UseFieldNameByDefault: true})
	if err != nil {
		slog.Error("bootstrap: parsing environment config", "error", err)
		return 1
	}

	conf, mode, specs, err := parseFlags(conf, os.Args[1:])
	if err != nil {
		slog.Error("bootstrap: parsing CLI flags", "error", err)
		return 1
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		conf.DataDir = dir
	}
	if err := os.MkdirAll(conf.DataDir, 0755); err != nil {
		slog.Error("bootstrap: creating data directory", "error", err, "dir", conf.DataDir)
		return 1
	}

	c, err := newCore(conf)
	if err != nil {
		slog.Error("bootstrap: initialization failed", "error", err)
		return 1
	}
	defer c.dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.connectStartup(ctx, mode, specs)

	runErr := c.run(ctx)
	if runErr != nil {
		slog.Error("bootstrap: shutdown error", "error", runErr)
		return 1
	}
	return 0
}

// mode is one of the four mutually-exclusive CLI printer-connect modes
// (§6.2). modeNone is the default.
type mode int

const (
	modeNone mode = iota
	modeLastUsed
	modeAllSaved
	modeExplicit
)

func parseFlags(conf Config, args []string) (Config, mode, []connect.ConnectSpec, error) {
	fs := flag.NewFlagSet("flashforgewebui-core", flag.ContinueOnError)
	lastUsed := fs.Bool("last-used", false, "connect only to the saved last-used printer")
	allSaved := fs.Bool("all-saved-printers", false, "connect to every saved printer")
	printers := fs.String("printers", "", `explicit printer list: "<ip:type[:checkCode]>[,...]"`)
	noPrinters := fs.Bool("no-printers", false, "start with no connections (default)")
	webUIPort := fs.Int("webui-port", 0, "override the WebUI port")
	webUIPassword := fs.String("webui-password", "", "override the WebUI password")
	if err := fs.Parse(args); err != nil {
		return conf, modeNone, nil, err
	}

	selected := 0
	if *lastUsed {
		selected++
	}
	if *allSaved {
		selected++
	}
	if *printers != "" {
		selected++
	}
	if *noPrinters {
		selected++
	}
	if selected > 1 {
		return conf, modeNone, nil, errors.New("bootstrap: --last-used, --all-saved-printers, --printers, and --no-printers are mutually exclusive")
	}

	if *webUIPort != 0 {
		if *webUIPort < 1 || *webUIPort > 65535 {
			return conf, modeNone, nil, fmt.Errorf("bootstrap: --webui-port must be in [1, 65535], got %d", *webUIPort)
		}
		conf.WebUIPort = *webUIPort
	}
	if *webUIPassword != "" {
		conf.WebUIPassword = *webUIPassword
	}

	switch {
	case *lastUsed:
		return conf, modeLastUsed, nil, nil
	case *allSaved:
		return conf, modeAllSaved, nil, nil
	case *printers != "":
		specs, err := parsePrinterSpecs(*printers)
		return conf, modeExplicit, specs, err
	default:
		return conf, modeNone, nil, nil
	}
}

// parsePrinterSpecs parses "<ip:type[:checkCode]>[,...]" per §6.2.
func parsePrinterSpecs(raw string) ([]connect.ConnectSpec, error) {
	var specs []connect.ConnectSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("bootstrap: malformed --printers entry %q, want ip:type[:checkCode]", entry)
		}
		clientType := parts[1]
		if clientType != "new" && clientType != "legacy" {
			return nil, fmt.Errorf("bootstrap: --printers entry %q has invalid type %q, want new or legacy", entry, clientType)
		}
		spec := connect.ConnectSpec{IP: parts[0], ClientType: clientType}
		if len(parts) == 3 {
			spec.CheckCode = parts[2]
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// core is the assembled collaborator graph. It has no analogue to the
// teacher's engine.App: nothing here owns an inbound HTTP router of its
// own beyond the Camera Proxy's per-port servers and the process healthz.
type core struct {
	conf Config

	bus      *engine.Bus
	mgr      *engine.ProcMgr
	configs  *configstore.Store
	printers *printerstore.Store
	reg      *registry.Registry
	flow     *connect.Flow
	polling  *polling.Coordinator
	queue    *thumbnails.Queue
	cams     *camera.Manager
	rtsp     *camera.RTSPBridge
	updater  spoolman.UsageUpdater

	svcsMu sync.Mutex
	svcs   map[string]*contextServices

	shutdownOnce sync.Once
	shutdownErr  error
}

// contextServices are the per-context collaborators started when a printer
// connects and stopped when its context is removed.
type contextServices struct {
	monitor  *monitor.Monitor
	cooldown *cooldown.Monitor
	usage    *usage.Tracker
}

func newCore(conf Config) (*core, error) {
	bus := engine.NewBus()
	mgr := &engine.ProcMgr{}

	configs, err := configstore.Open(filepath.Join(conf.DataDir, "config.json"), bus)
	if err != nil {
		return nil, fmt.Errorf("opening config store: %w", err)
	}

	printers, err := printerstore.Open(filepath.Join(conf.DataDir, "printer_details.json"))
	if err != nil {
		return nil, fmt.Errorf("opening printer details store: %w", err)
	}

	appCfg := configs.GetAll()
	if conf.WebUIPort != 0 {
		appCfg.WebUIPort = conf.WebUIPort
	}
	if conf.WebUIPassword != "" {
		appCfg.WebUIPassword = conf.WebUIPassword
	}
	configs.Replace(appCfg)

	reg := registry.New(bus)

	flow := &connect.Flow{
		Factory:        flashforgeapi.Factory{},
		Printers:       printers,
		Registry:       reg,
		Bus:            bus,
		ProbeOptions:   connect.ProbeOptions{Timeout: time.Duration(appCfg.ProbeTimeoutMs) * time.Millisecond, Retries: appCfg.ProbeRetries, BaseBackoff: time.Second},
		ForceLegacyAPI: appCfg.ForceLegacyAPI,
	}

	pollingCoord := polling.NewCoordinator(bus, polling.Config{
		ActiveInterval:   time.Duration(appCfg.ActiveIntervalMs) * time.Millisecond,
		InactiveInterval: time.Duration(appCfg.InactiveIntervalMs) * time.Millisecond,
		MaxRetries:       appCfg.MaxPollRetries,
		BaseRetryDelay:   time.Duration(appCfg.BaseRetryMs) * time.Millisecond,
	})

	queue := thumbnails.New(bus, func() (thumbnails.ThumbnailBackend, bool) {
		id := reg.ActiveContextID()
		if id == "" {
			return nil, false
		}
		ctx := reg.Get(id)
		if ctx == nil {
			return nil, false
		}
		be, ok := ctx.Backend.(*backend.Backend)
		return be, ok
	})
	queue.AttachWorkers(mgr)

	cams := camera.New(reg, mgr)
	rtsp := camera.NewRTSPBridge()

	var updater spoolman.UsageUpdater
	if conf.SpoolmanBaseURL != "" {
		updater = spoolman.New(conf.SpoolmanBaseURL)
	}

	healthz := engine.NewServer()
	healthz.Handle("GET", "/healthz", engine.ServeHealthz)
	mgr.Add(healthz.Serve(fmt.Sprintf(":%d", appCfg.WebUIPort)))

	c := &core{
		conf: conf, bus: bus, mgr: mgr,
		configs: configs, printers: printers, reg: reg,
		flow: flow, polling: pollingCoord, queue: queue,
		cams: cams, rtsp: rtsp, updater: updater,
		svcs: make(map[string]*contextServices),
	}

	bus.Subscribe(model.TopicConnected, c.onConnected)
	bus.Subscribe(model.TopicContextRemoved, c.onContextRemoved)

	return c, nil
}

// onConnected starts the per-context services once Connection Flow has
// fully materialized a context (backend attached, state connected). The
// event only carries the printer's identity, so the context is located by
// serial — by the time TopicConnected fires, the Registry's bySerial index
// and backend decoration are both already in place.
func (c *core) onConnected(v any) {
	identity, ok := v.(model.PrinterIdentity)
	if !ok {
		return
	}
	ctx := c.reg.GetBySerial(identity.SerialNumber)
	if ctx == nil {
		return
	}
	be, _ := ctx.Backend.(*backend.Backend)
	if be == nil {
		return
	}

	c.polling.Start(context.Background(), ctx.ContextID, be, ctx.IsActive)

	appCfg := c.configs.GetAll()
	svcs := &contextServices{
		monitor:  monitor.New(c.bus, ctx.ContextID),
		cooldown: cooldown.New(c.bus, ctx.ContextID, cooldown.Config{Threshold: appCfg.CooldownThresholdC, CheckInterval: time.Duration(appCfg.CooldownIntervalMs) * time.Millisecond}),
	}
	if c.updater != nil {
		svcs.usage = usage.New(c.bus, c.reg, c.printers, c.updater, ctx.ContextID, usage.Config{Enabled: appCfg.UsageTrackingEnabled, Mode: appCfg.UsageUpdateMode})
	}

	c.svcsMu.Lock()
	c.svcs[ctx.ContextID] = svcs
	c.svcsMu.Unlock()

	c.printers.RecordContextLastUsed(ctx.ContextID, identity.SerialNumber)
}

func (c *core) onContextRemoved(v any) {
	event, ok := v.(model.ContextRemovedEvent)
	if !ok {
		return
	}
	c.svcsMu.Lock()
	svcs := c.svcs[event.ContextID]
	delete(c.svcs, event.ContextID)
	c.svcsMu.Unlock()

	if svcs != nil {
		svcs.monitor.Close()
		svcs.cooldown.Close()
		if svcs.usage != nil {
			svcs.usage.Close()
		}
	}
	c.cams.Teardown(event.ContextID)
	c.rtsp.Teardown(event.ContextID)
}

// connectStartup dispatches the selected CLI mode (§6.2). Failures connecting
// individual printers are logged by Connection Flow itself and never abort
// the process.
func (c *core) connectStartup(ctx context.Context, m mode, specs []connect.ConnectSpec) {
	switch m {
	case modeLastUsed:
		if saved := c.printers.GetLastUsed(""); saved != nil {
			c.flow.ConnectFromSaved(ctx, []*model.StoredPrinter{saved})
		}
	case modeAllSaved:
		c.flow.ConnectFromSaved(ctx, c.printers.All())
	case modeExplicit:
		c.flow.ConnectDirect(ctx, specs)
	case modeNone:
		// start with no connections
	}
}

// run blocks until ctx is cancelled, then disconnects every live context and
// waits for every supervised Proc to stop. Idempotent: a second call after
// the first returns is a no-op and returns the same result (§5 shutdown()
// idempotence).
func (c *core) run(ctx context.Context) error {
	procsDone := make(chan struct{})
	go func() {
		c.mgr.Run(ctx)
		close(procsDone)
	}()

	<-ctx.Done()
	c.shutdown(context.Background())

	<-procsDone
	return c.shutdownErr
}

// shutdown disconnects every live context exactly once, guarded so that
// concurrent or repeated calls are safe (scenario S6).
func (c *core) shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		for _, printerCtx := range c.reg.All() {
			if err := c.flow.Disconnect(ctx, printerCtx.ContextID); err != nil {
				slog.Error("bootstrap: disconnect during shutdown", "error", err, "contextId", printerCtx.ContextID)
				c.shutdownErr = err
			}
		}
		c.cams.TeardownAll()
		c.rtsp.TeardownAll()
	})
}

func (c *core) dispose() {
	if err := c.configs.Dispose(); err != nil {
		slog.Error("bootstrap: config store dispose failed", "error", err)
	}
}
