// Command mahavishnud runs the orchestration kernel: pool manager, worker
// manager, router, message bus, and tool-surface registrar behind a
// single process.
//
// # Configuration
//
// Environment variables (see internal/config for the full surface):
//
//	POOL_IDS            - comma-separated pool IDs to create at startup
//	POOL_<ID>_MIN/MAX    - scaling bounds for pool <ID>
//	POOL_<ID>_STRATEGY   - intra-pool selection for pool <ID>
//	ROUTER_STRATEGY      - inter-pool selection
//	RATE_SCOPES          - comma-separated rate-limit scopes
//	RATE_<SCOPE>_RPS/BURST
//	CIRCUIT_ADAPTERS     - comma-separated adapter names
//	CIRCUIT_<ADAPTER>_THRESHOLD/COOLDOWN/MAX_ATTEMPTS
//	BUS_REPOS            - comma-separated repo names the bus accepts
//	BUS_SECRET_<REPO>    - HMAC key for messages from/to <REPO>
//	SPAWN_BUDGET_SECONDS - loaded into config.Config.SpawnBudget; scale-ups
//	                       do not read it and use kernel/pool's fixed 30s
//	                       spawnBudget
//	MONGO_URI            - when set, the bus persists to MongoDB instead
//	                       of an in-memory store
//	REDIS_ADDR           - when set, mahavishnud runs in clustered mode:
//	                       pool health is shared across every process via
//	                       a Pulse replicated map; rate-limit budgets stay
//	                       per-process
//	MAHAVISHNU_NODE_ID   - this process's cluster node ID (defaults to a
//	                       generated UUID); only consulted when REDIS_ADDR
//	                       is set
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/pulse/rmap"

	"github.com/lesleslie/mahavishnu/internal/config"
	"github.com/lesleslie/mahavishnu/internal/server"
	"github.com/lesleslie/mahavishnu/kernel/bus"
	"github.com/lesleslie/mahavishnu/kernel/bus/store"
	"github.com/lesleslie/mahavishnu/kernel/bus/store/memory"
	busmongo "github.com/lesleslie/mahavishnu/kernel/bus/store/mongo"
	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/ratelimit"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
	"github.com/lesleslie/mahavishnu/kernel/toolsurface"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	poolIDs := splitList(os.Getenv("POOL_IDS"))
	rateScopes := splitList(os.Getenv("RATE_SCOPES"))
	circuitAdapters := splitList(os.Getenv("CIRCUIT_ADAPTERS"))
	busRepos := splitList(os.Getenv("BUS_REPOS"))

	cfg, err := config.Load(poolIDs, rateScopes, circuitAdapters, busRepos)
	if err != nil {
		return err
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	busStore, closeStore, err := newBusStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	secrets := make(bus.MapSecretResolver, len(cfg.BusSecrets))
	for repo, secret := range cfg.BusSecrets {
		secrets[repo] = secret
	}

	srv, err := server.New(ctx, cfg, busStore, secrets, busRepos, logger, metrics)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.DefaultRate)
	for scope, rc := range cfg.Rates {
		limiter.Configure(scope, rc)
	}

	closeCluster, err := maybeJoinCluster(ctx, srv)
	if err != nil {
		return err
	}
	defer closeCluster()

	registrar := toolsurface.New(limiter, logger, metrics)
	if err := srv.Register(registrar); err != nil {
		return err
	}

	log.Printf("mahavishnud ready: %d pool(s), %d rate scope(s), %d circuit adapter(s)",
		len(cfg.Pools), len(cfg.Rates), len(cfg.Circuits))

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	log.Printf("exiting (%v)", <-errc)
	return nil
}

// newBusStore returns a MongoDB-backed store when MONGO_URI is set, and
// an in-memory store otherwise. The returned close func must be called
// on shutdown.
func newBusStore(ctx context.Context) (store.Store, func(), error) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return memory.New(), func() {}, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	dbName := envOr("MONGO_DATABASE", "mahavishnu")
	collName := envOr("MONGO_COLLECTION", "bus_messages")
	coll := client.Database(dbName).Collection(collName)

	closeFn := func() {
		if err := client.Disconnect(ctx); err != nil {
			log.Printf("disconnect mongo: %v", err)
		}
	}
	return busmongo.New(coll), closeFn, nil
}

// maybeJoinCluster enables clustered mode when REDIS_ADDR is set: it joins
// a Pulse replicated map and attaches a ClusterHealth publisher to srv's
// pool manager. When REDIS_ADDR is unset, it is a no-op and the returned
// close func does nothing.
func maybeJoinCluster(ctx context.Context, srv *server.Server) (func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	healthMap, err := rmap.Join(ctx, "mahavishnu:pool-health", rdb)
	if err != nil {
		return nil, fmt.Errorf("join pool health map: %w", err)
	}

	nodeID := envOr("MAHAVISHNU_NODE_ID", uuid.NewString())
	ch := pool.NewClusterHealth(healthMap, nodeID, 10*time.Second)
	mgr := srv.PoolManager()
	ch.Publish(ctx, mgr)
	srv.AttachClusterHealth(ch)

	closeFn := func() {
		if err := ch.Close(context.Background(), mgr); err != nil {
			log.Printf("close cluster health: %v", err)
		}
		healthMap.Close()
		if err := rdb.Close(); err != nil {
			log.Printf("close redis client: %v", err)
		}
	}
	return closeFn, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
