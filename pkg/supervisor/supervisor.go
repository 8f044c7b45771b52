// Package supervisor owns process lifetime: it builds the HTTP server and
// scheduler from a loaded configuration, runs them concurrently, and drives
// graceful shutdown on SIGINT/SIGTERM, mirroring the teacher's main.go
// almost exactly but factored out of main so cmd/lemonade-server stays a
// thin flag-parsing shell.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/httpapi"
	"github.com/lemonade-sdk/lemonade-server/pkg/lmconfig"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
)

var log = logging.Component("supervisor")

// Deps bundles the already-constructed components Run wires together. The
// caller (cmd/lemonade-server) is responsible for building the concrete
// scheduler.SpawnFunc that binds catalog recipes to pkg/wrapped/* engine
// adapters, since this package must not import any specific engine.
type Deps struct {
	Config    *lmconfig.Config
	Catalog   *catalog.Catalog
	Cache     *modelcache.Cache
	Opts      *recipeopts.Store
	Scheduler *scheduler.Scheduler
	Hardware  hwprobe.Snapshot
	Version   string
}

// Run builds the HTTP handler from deps and runs it alongside the
// scheduler's idle-eviction loop until ctx is canceled, then waits out a
// bounded grace period for in-flight requests and resident wrapped servers
// to wind down before returning.
func Run(ctx context.Context, deps Deps) error {
	corsOrigins := splitCSV(deps.Config.CorsOrigins)

	handler := httpapi.New(httpapi.Config{
		APIKey:         deps.Config.APIKey,
		CorsOrigins:    corsOrigins,
		RateLimitRPS:   deps.Config.RateLimitRPS,
		Port:           deps.Config.Port,
		EnableRealtime: deps.Config.EnableRealtime,
	}, httpapi.Deps{
		Catalog:    deps.Catalog,
		Scheduler:  deps.Scheduler,
		Cache:      deps.Cache,
		Opts:       deps.Opts,
		Hardware:   deps.Hardware,
		VersionTag: deps.Version,
	})

	addr := net.JoinHostPort(deps.Config.Host, strconv.Itoa(deps.Config.Port))
	server := &http.Server{Addr: addr, Handler: handler}

	workers, workerCtx := errgroup.WithContext(ctx)

	workers.Go(func() error {
		log.WithField("addr", addr).Infoln("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	workers.Go(func() error {
		return deps.Scheduler.Run(workerCtx)
	})

	// Neither worker above returns until shutdown is requested (by ctx being
	// canceled or the listener failing), so block on workerCtx, which ends in
	// either case, and then drive the bounded shutdown sequence.
	<-workerCtx.Done()
	log.Infoln("shutdown signal received")

	grace := time.Duration(deps.Config.ShutdownGrace) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warnln("forcing listener close after grace period")
		_ = server.Close()
	}

	// The scheduler's Run loop unloads every resident model as soon as its
	// ctx is canceled; workers.Wait blocks until that teardown (and the
	// listener goroutine) both finish.
	if err := workers.Wait(); err != nil {
		return err
	}

	log.Infoln("lemonade-server stopped")
	return nil
}

// splitCSV parses the comma-separated CORS origin list from configuration.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, piece := range strings.Split(s, ",") {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}
