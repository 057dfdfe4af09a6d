// Package policyfile keeps an mcpservice.Policy in sync with a YAML file on
// disk.
package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-toolhost/mcpservice"
)

// Watch loads path into p and then reloads it whenever the file is written,
// created or renamed into place. The parent directory is watched so that
// editors which save by rename are picked up.
//
// The initial load must succeed. Later parse failures keep the previous
// policy and are logged as policy.reload.fail. Watching stops when ctx is
// done; the returned channel is closed once the watcher has shut down.
func Watch(ctx context.Context, path string, p *mcpservice.Policy, log *slog.Logger) (<-chan struct{}, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	if err := p.LoadFile(abs); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch policy directory: %w", err)
	}
	log.InfoContext(ctx, "policy.watch.start", slog.String("path", abs))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := p.LoadFile(abs); err != nil {
					log.WarnContext(ctx, "policy.reload.fail", slog.String("path", abs), slog.String("err", err.Error()))
					continue
				}
				log.InfoContext(ctx, "policy.reload.ok", slog.String("path", abs))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WarnContext(ctx, "policy.watch.error", slog.String("err", err.Error()))
			}
		}
	}()
	return done, nil
}
