package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ritzau/blockgraph/pkg/catalog"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
	"github.com/ritzau/blockgraph/pkg/serialization"
	"github.com/ritzau/blockgraph/pkg/store"
	"github.com/ritzau/blockgraph/pkg/watcher"
	"github.com/ritzau/blockgraph/pkg/web"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a workspace over HTTP",
		Long: "Serve keeps one workspace in memory and exposes editing, drag sessions,\n" +
			"history and verification over a JSON API, with change records streamed as\n" +
			"server-sent events. With --watch the document and catalogs are reloaded\n" +
			"when they change on disk.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	f := cmd.Flags()
	f.Int("port", 8080, "Port for the web server")
	f.String("document", "", "Document to load at startup")
	f.Bool("watch", false, "Reload the document and catalogs when they change")
	f.String("store", "", "Document store: a directory, file:<dir> or a postgres:// URL")
	return cmd
}

func serve(ctx context.Context) error {
	ws, err := newWorkspace()
	if err != nil {
		return err
	}
	if cfg.Document != "" {
		if err := loadDocument(ws, cfg.Document); err != nil {
			return err
		}
	}

	server := web.NewServer(ws)
	defer server.Close()

	if cfg.Store != "" {
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		server.SetStore(st)
		logging.Info("document store ready", "location", cfg.Store)
	}

	if cfg.Watch {
		if err := startWatching(ctx, server); err != nil {
			return err
		}
	}
	server.PublishWorkspaceStatus("ready", "workspace loaded")

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	// Shutdown waits for open event streams, which end when the server closes.
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadDocument replaces the content of ws with the document at path. The
// load is not undoable, and any earlier history is dropped.
func loadDocument(ws *model.Workspace, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ids, err := serialization.LoadAs(data, serialization.FormatFromPath(path), ws, serialization.LoadOptions{IgnoreUnknown: true})
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	ws.ClearUndo()
	logging.Info("document loaded", "path", path, "topBlocks", len(ids))
	return nil
}

func startWatching(ctx context.Context, server *web.Server) error {
	fw, err := watcher.NewFileWatcher(cfg.Document, cfg.Catalogs)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	debouncer := watcher.NewDebouncer(fw.Events(), 500*time.Millisecond, 2*time.Second)
	debouncer.Start(ctx)

	go func() {
		defer fw.Stop()
		for event := range debouncer.Output() {
			reload(server, watcher.AnalyzeChanges(event))
		}
	}()
	logging.Info("watching for changes", "document", cfg.Document, "catalogs", len(cfg.Catalogs))
	return nil
}

func reload(server *web.Server, analysis *watcher.ChangeAnalysis) {
	logging.Info("files changed", "files", len(analysis.ChangedFiles), "catalogs", analysis.NeedCatalogReload)
	err := server.Update(func(ws *model.Workspace) error {
		if analysis.NeedCatalogReload {
			cat, err := catalog.Load(cfg.Catalogs...)
			if err != nil {
				return err
			}
			if err := cat.RegisterInto(ws.Registry()); err != nil {
				return err
			}
		}
		if analysis.NeedDocumentReload && cfg.Document != "" {
			return loadDocument(ws, cfg.Document)
		}
		return nil
	})
	if err != nil {
		logging.Error("reload failed", "error", err)
		server.PublishWorkspaceStatus("error", err.Error())
		return
	}
	server.PublishWorkspaceStatus("ready", "reloaded from disk")
}
