package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/tidwall/redcon"

	"github.com/kvshard/replicore/internal/adminapi"
	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/metrics"
	"github.com/kvshard/replicore/internal/replication"
	"github.com/kvshard/replicore/internal/replnet"
)

// version is set at build time via -ldflags; empty in dev builds.
var version = "dev"

var (
	syncAddr    = flag.String("sync-addr", ":6380", "PSYNC listener address for incoming slave connections")
	advertiseIP = flag.String("sync-advertise-ip", "127.0.0.1", "IP this process advertises in PSYNC so a master can dial back an incremental-push connection")
	adminAddr   = flag.String("admin-addr", ":6381", "admin HTTP API address")
	metricsAddr = flag.String("metrics-addr", ":6382", "Prometheus metrics address")
	dataDir     = flag.String("data-dir", "./data", "data directory for per-store Badger databases")
	dumpPath    = flag.String("dump-path", "./dump", "root of the per-store binlog dump directory")
	numStores   = flag.Int("num-stores", 4, "number of stores this process hosts")

	binlogRateLimitMB = flag.Float64("binlog-rate-limit-mb", 64, "outbound binlog push bandwidth ceiling, MiB/s")
	masterAuth        = flag.String("master-auth", "", "AUTH challenge sent to a configured master, if non-empty")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	catalogDB, err := badger.Open(badger.DefaultOptions(filepath.Join(*dataDir, "catalog")))
	if err != nil {
		log.Fatalf("open catalog db: %v", err)
	}
	defer catalogDB.Close()
	catalog := kvstore.NewBadgerCatalog(catalogDB)

	stores := make([]*kvstore.Store, *numStores)
	for i := 0; i < *numStores; i++ {
		s, err := kvstore.NewStore(i, filepath.Join(*dataDir, fmt.Sprintf("store-%d", i)))
		if err != nil {
			log.Fatalf("open store %d: %v", i, err)
		}
		stores[i] = s
	}
	defer func() {
		for _, s := range stores {
			if err := s.Close(); err != nil {
				log.Printf("closing store %d: %v", s.ID(), err)
			}
		}
	}()

	segMgr := kvstore.NewSegmentManager(stores)

	_, syncPortStr, err := net.SplitHostPort(*syncAddr)
	if err != nil {
		log.Fatalf("parse sync-addr %q: %v", *syncAddr, err)
	}
	syncPort, err := strconv.ParseUint(syncPortStr, 10, 32)
	if err != nil {
		log.Fatalf("parse sync-addr port %q: %v", syncPortStr, err)
	}

	cfg := replication.DefaultConfig()
	cfg.BinlogRateLimitMB = *binlogRateLimitMB
	cfg.DumpPath = *dumpPath
	cfg.MasterAuth = *masterAuth
	cfg.SyncListenIP = *advertiseIP
	cfg.SyncListenPort = uint32(syncPort)

	mgr := replication.NewManager(cfg, segMgr, catalog)
	if err := mgr.Startup(); err != nil {
		log.Fatalf("replication manager startup: %v", err)
	}

	syncServer := replnet.NewServer(*syncAddr, func(req replnet.SyncRequest, conn redcon.Conn) (uint64, error) {
		return mgr.RegisterClient(req.StoreID, req.SlaveListenIP, req.SlaveListenPort)
	}, mgr.DialAndAttachPushClient, mgr.DeregisterClient)
	if err := syncServer.Start(); err != nil {
		log.Fatalf("start sync listener: %v", err)
	}
	log.Printf("replicad: sync listener on %s, %d stores", *syncAddr, *numStores)

	admin := adminapi.NewServer(*adminAddr, mgr)
	go func() {
		if err := admin.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Printf("admin api stopped: %v", err)
		}
	}()

	metrics.InitInfo(version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	exporter := metrics.NewExporter(*metricsAddr)
	go func() {
		if err := exporter.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Printf("metrics exporter stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("replicad: shutting down")

	if err := syncServer.Close(); err != nil {
		log.Printf("closing sync listener: %v", err)
	}
	if err := admin.Stop(); err != nil {
		log.Printf("stopping admin api: %v", err)
	}
	if err := exporter.Stop(); err != nil {
		log.Printf("stopping metrics exporter: %v", err)
	}
	mgr.Stop()
}
