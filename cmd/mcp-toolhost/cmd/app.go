package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-toolhost/internal/config"
	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/ggoodman/mcp-toolhost/mcpserver"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
	"github.com/ggoodman/mcp-toolhost/mcpservice/policyfile"
	"github.com/ggoodman/mcp-toolhost/providers"
	"github.com/ggoodman/mcp-toolhost/records"
	"github.com/ggoodman/mcp-toolhost/sessions"
	"github.com/ggoodman/mcp-toolhost/sessions/memoryhost"
	"github.com/ggoodman/mcp-toolhost/sessions/redishost"
	"github.com/ggoodman/mcp-toolhost/sessions/sqlitehost"
	"github.com/ggoodman/mcp-toolhost/storage"
	"github.com/ggoodman/mcp-toolhost/storage/memory"
	redisstorage "github.com/ggoodman/mcp-toolhost/storage/redis"
)

// app is the assembled server plus everything that must be closed on exit.
type app struct {
	server     *mcpserver.Server
	dispatcher *mcpservice.Dispatcher
	closers    []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	llms, err := providers.NewRegistry(providers.Echo{})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	tools := append(records.Tools(records.NewStore(st)), providers.Tool(llms))
	reg, err := mcpservice.NewRegistry(tools...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	dispOpts := []mcpservice.DispatcherOption{mcpservice.WithLogger(log)}
	if cfg.ToolPolicy != "" {
		policy := mcpservice.NewPolicy()
		if _, err := policyfile.Watch(ctx, cfg.ToolPolicy, policy, log); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("load tool policy: %w", err)
		}
		dispOpts = append(dispOpts, mcpservice.WithVisibility(policy))
	}
	a.dispatcher = mcpservice.NewDispatcher(reg, dispOpts...)

	var mgr *sessions.Manager
	if !cfg.Stateless() {
		host, closeHost, err := openSessionHost(cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closeHost)
		mgr = sessions.NewManager(host, sessions.WithLogger(log))
	}

	srvOpts := []mcpserver.ServerOption{
		mcpserver.WithLogger(log),
		mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}),
		mcpserver.WithInstructions(cfg.Instructions),
	}
	if vs := cfg.ProtocolVersionList(); len(vs) > 0 {
		srvOpts = append(srvOpts, mcpserver.WithProtocolVersions(vs...))
	}
	if cfg.Stateless() {
		srvOpts = append(srvOpts, mcpserver.WithStateless())
	}
	if cfg.ToolCallRPS > 0 {
		srvOpts = append(srvOpts, mcpserver.WithToolCallRateLimit(cfg.ToolCallRPS, cfg.ToolCallBurst))
	}
	a.server = mcpserver.NewServer(mgr, a.dispatcher, srvOpts...)

	log.InfoContext(ctx, "toolhost.build.ok",
		slog.String("mode", cfg.Mode),
		slog.String("session_store", cfg.SessionStore),
		slog.String("record_store", cfg.RecordStore),
		slog.Int("tools", len(tools)),
	)
	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.RecordStore {
	case config.StoreRedis:
		st, err := redisstorage.NewFromEnv()
		if err != nil {
			return nil, fmt.Errorf("open redis record storage: %w", err)
		}
		return st, nil
	default:
		st, err := memory.New(cfg.RecordCacheSize)
		if err != nil {
			return nil, fmt.Errorf("open memory record storage: %w", err)
		}
		// Past capacity the least recently used record is dropped.
		log.WarnContext(ctx, "toolhost.records.lossy",
			slog.String("record_store", config.StoreMemory),
			slog.Int("capacity", cfg.RecordCacheSize),
		)
		return st, nil
	}
}

func openSessionHost(cfg *config.Config) (sessions.Host, func() error, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		h, err := redishost.NewFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("open redis session host: %w", err)
		}
		return h, h.Close, nil
	case config.StoreSQLite:
		h, err := sqlitehost.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite session host: %w", err)
		}
		return h, h.Close, nil
	default:
		return memoryhost.New(), func() error { return nil }, nil
	}
}
