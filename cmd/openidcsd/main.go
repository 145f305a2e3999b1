// openidcsd is the controller daemon: it listens on an HTTP address and
// exposes the Host Manager, VNC gateway, and catalog store to operators.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/api"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/config"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/manager"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/vncgw"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	log.Printf("openidcsd starting (data: %s)", cfg.DataDir)

	store, err := catalog.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer store.Close()
	log.Printf("catalog: %s", cfg.DBPath)

	mgr := manager.New(store, cfg.SavingRoot, cfg.StatusRingBound)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.LoadAll(ctx); err != nil {
		cancel()
		log.Fatalf("load hosts: %v", err)
	}
	cancel()
	log.Printf("host manager: loaded hosts from catalog")

	gw := vncgw.New(filepath.Join(cfg.SavingRoot, "websockify.cfg"), cfg.VNCGatewayAddr, cfg.VNCStaticDir)
	if err := gw.Load(); err != nil {
		log.Fatalf("load vnc gateway config: %v", err)
	}
	if err := gw.Start(); err != nil {
		log.Fatalf("start vnc gateway: %v", err)
	}
	log.Printf("vnc gateway: listening on %s", cfg.VNCGatewayAddr)

	server := api.NewServer(cfg.SocketAddr, mgr, gw)
	if err := server.Start(); err != nil {
		log.Fatalf("start API server: %v", err)
	}
	log.Printf("openidcsd ready (pid %d, api %s)", os.Getpid(), cfg.SocketAddr)

	stopTick := startTicker(mgr, cfg.TickPeriod)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	close(stopTick)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	mgr.Shutdown(shutdownCtx)

	if err := gw.Stop(shutdownCtx); err != nil {
		log.Printf("vnc gateway shutdown: %v", err)
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("api server shutdown: %v", err)
	}

	log.Println("openidcsd stopped")
}

// startTicker runs Manager.Tick on a fixed period, launching the first
// tick asynchronously so bootstrap never blocks on it. If a tick
// overruns the period, the next one is skipped rather than queued.
func startTicker(mgr *manager.Manager, period time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(period)

	runTick := func() {
		ctx, cancel := context.WithTimeout(context.Background(), period)
		defer cancel()
		if err := mgr.Tick(ctx); err != nil {
			log.Printf("tick: %v", err)
		}
	}

	busy := make(chan struct{}, 1)
	busy <- struct{}{}
	go func() {
		runTick()
		<-busy
	}()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case busy <- struct{}{}:
					go func() {
						runTick()
						<-busy
					}()
				default:
					log.Printf("tick: previous tick still running, skipping")
				}
			}
		}
	}()

	return stop
}
