// Package server wires the orchestration kernel's components (worker
// manager, pool manager, router, bus, rate limiter, aggregator) into the
// named tool-surface endpoints a transport-agnostic caller invokes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lesleslie/mahavishnu/internal/config"
	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/aggregator"
	"github.com/lesleslie/mahavishnu/kernel/bus"
	"github.com/lesleslie/mahavishnu/kernel/bus/store"
	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/router"
	"github.com/lesleslie/mahavishnu/kernel/task"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
	"github.com/lesleslie/mahavishnu/kernel/toolsurface"
	"github.com/lesleslie/mahavishnu/kernel/worker"
)

// Server owns the kernel components for one process and the pools they
// were configured to create.
type Server struct {
	cfg     *config.Config
	workers *worker.Manager
	pools   *pool.Manager
	router  *router.Router
	bus     *bus.Bus
	agg     *aggregator.Aggregator
	logger  telemetry.Logger
	cluster *pool.ClusterHealth

	// standalone holds workers spawned directly through worker.spawn
	// rather than owned by a Pool; worker.execute/list/close/close_all
	// operate on this registry.
	standaloneMu sync.Mutex
	standalone   map[worker.ID]*worker.Handle
}

// New assembles the kernel components and creates every pool named in
// cfg.Pools. busRepos is the full set of repos the bus accepts messages
// for (a superset of the ones with a local secret, since a repo may only
// ever be a recipient).
func New(ctx context.Context, cfg *config.Config, busStore store.Store, secrets bus.SecretResolver, busRepos []string, logger telemetry.Logger, metrics telemetry.Metrics) (*Server, error) {
	workers := worker.NewManager(logger, metrics)
	pools := pool.NewManager(workers, logger, metrics)

	s := &Server{
		cfg:        cfg,
		workers:    workers,
		pools:      pools,
		router:     router.New(cfg.RouterStrategy),
		bus:        bus.New(busStore, secrets, busRepos, logger),
		logger:     logger,
		standalone: make(map[worker.ID]*worker.Handle),
	}
	s.agg = aggregator.New(poolSearcher{pools: pools}, 2*time.Second, logger)

	for id, pc := range cfg.Pools {
		if _, err := pools.CreatePool(ctx, pool.Config{
			Kind:     pool.KindLocal,
			Min:      pc.Min,
			Max:      pc.Max,
			Strategy: pc.Strategy,
		}); err != nil {
			return nil, fmt.Errorf("server: create pool %q: %w", id, err)
		}
	}

	return s, nil
}

// PoolManager exposes the pool Manager so the process entrypoint can
// attach an optional cluster-wide health publisher.
func (s *Server) PoolManager() *pool.Manager { return s.pools }

// AttachClusterHealth registers a cluster health publisher so pool.health
// responses include every node's reported health alongside the local one.
// Call only when running in clustered mode.
func (s *Server) AttachClusterHealth(ch *pool.ClusterHealth) { s.cluster = ch }

// poolSearcher adapts pool.Manager to aggregator.Searcher.
type poolSearcher struct {
	pools *pool.Manager
}

func (s poolSearcher) MemorySearch(p *pool.Pool, query string, k int) ([]pool.Candidate, error) {
	return s.pools.MemorySearch(p, query, k)
}

// Register binds every named operation to reg. Rate limiting is applied
// by reg itself (configured with per-scope limits at construction).
func (s *Server) Register(reg *toolsurface.Registrar) error {
	endpoints := []toolsurface.Endpoint{
		{Name: "pool.spawn", PayloadSchema: poolSpawnSchema, Handler: s.handleSpawn},
		{Name: "pool.execute", PayloadSchema: poolExecuteSchema, Handler: s.handleExecute},
		{Name: "pool.route_execute", PayloadSchema: poolRouteExecuteSchema, Handler: s.handleRouteExecute},
		{Name: "pool.scale", PayloadSchema: poolScaleSchema, Handler: s.handleScale},
		{Name: "pool.close", PayloadSchema: poolIDSchema, Handler: s.handleClose},
		{Name: "pool.close_all", PayloadSchema: emptySchema, Handler: s.handleCloseAll},
		{Name: "pool.list", PayloadSchema: emptySchema, Handler: s.handleList},
		{Name: "pool.health", PayloadSchema: poolIDSchema, Handler: s.handleHealth},
		{Name: "pool.memory_search", PayloadSchema: poolMemorySearchSchema, Handler: s.handleMemorySearch},
		{Name: "worker.spawn", PayloadSchema: workerSpawnSchema, Handler: s.handleWorkerSpawn},
		{Name: "worker.execute", PayloadSchema: workerExecuteSchema, Handler: s.handleWorkerExecute},
		{Name: "worker.execute_batch", PayloadSchema: workerExecuteBatchSchema, Handler: s.handleWorkerExecuteBatch},
		{Name: "worker.list", PayloadSchema: emptySchema, Handler: s.handleWorkerList},
		{Name: "worker.close", PayloadSchema: workerIDSchema, Handler: s.handleWorkerClose},
		{Name: "worker.close_all", PayloadSchema: emptySchema, Handler: s.handleWorkerCloseAll},
		{Name: "msg.send", PayloadSchema: msgSendSchema, Handler: s.handleMsgSend},
		{Name: "msg.list", PayloadSchema: msgListSchema, Handler: s.handleMsgList},
		{Name: "msg.ack", PayloadSchema: msgAckSchema, Handler: s.handleMsgAck},
		{Name: "msg.forward", PayloadSchema: msgForwardSchema, Handler: s.handleMsgForward},
		{Name: "msg.broadcast", PayloadSchema: msgBroadcastSchema, Handler: s.handleMsgBroadcast},
	}
	for _, e := range endpoints {
		if err := reg.Register(e); err != nil {
			return fmt.Errorf("server: register %s: %w", e.Name, err)
		}
	}
	return nil
}

func (s *Server) resolvePool(id string) (*pool.Pool, error) {
	p, ok := s.pools.Pool(pool.ID(id))
	if !ok {
		return nil, kernel.ErrNoPoolAvailable
	}
	return p, nil
}

type spawnRequest struct {
	Kind     string `json:"kind"`
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Strategy string `json:"strategy"`
}

func (s *Server) handleSpawn(ctx context.Context, payload json.RawMessage) (any, error) {
	var req spawnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.pools.CreatePool(ctx, pool.Config{
		Kind:     pool.Kind(req.Kind),
		Min:      req.Min,
		Max:      req.Max,
		Strategy: pool.Strategy(req.Strategy),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"pool_id": string(p.ID)}, nil
}

type executeRequest struct {
	PoolID  string `json:"pool_id"`
	Task    taskDoc `json:"task"`
}

type taskDoc struct {
	Kind              string `json:"kind"`
	Payload           string `json:"payload"`
	DeadlineSeconds   int    `json:"deadline_seconds"`
	Priority          string `json:"priority"`
	RequestedPoolKind string `json:"requested_pool_kind"`
	AffinityKey       string `json:"affinity_key"`
}

func (d taskDoc) toTask(now time.Time) task.Task {
	deadline := now.Add(time.Duration(d.DeadlineSeconds) * time.Second)
	return task.Task{
		Kind:              task.Kind(d.Kind),
		Payload:           task.Payload{Raw: []byte(d.Payload)},
		Deadline:          deadline,
		Priority:          parsePriority(d.Priority),
		RequestedPoolKind: d.RequestedPoolKind,
		AffinityKey:       d.AffinityKey,
	}
}

func parsePriority(s string) task.Priority {
	switch s {
	case "low":
		return task.PriorityLow
	case "high":
		return task.PriorityHigh
	case "urgent":
		return task.PriorityUrgent
	default:
		return task.PriorityNormal
	}
}

func (s *Server) handleExecute(ctx context.Context, payload json.RawMessage) (any, error) {
	var req executeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.resolvePool(req.PoolID)
	if err != nil {
		return nil, err
	}
	res, err := s.pools.Execute(ctx, p, req.Task.toTask(time.Now()))
	if err != nil {
		return nil, err
	}
	return resultDoc(res), nil
}

type routeExecuteRequest struct {
	Strategy string  `json:"strategy"`
	Task     taskDoc `json:"task"`
}

func (s *Server) handleRouteExecute(ctx context.Context, payload json.RawMessage) (any, error) {
	var req routeExecuteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	t := req.Task.toTask(time.Now())
	r := s.router
	if req.Strategy != "" {
		r = router.New(router.Strategy(req.Strategy))
	}
	id, err := r.Route(t, managerCatalog{s.pools})
	if err != nil {
		return nil, err
	}
	p, err := s.resolvePool(string(id))
	if err != nil {
		return nil, err
	}
	res, err := s.pools.Execute(ctx, p, t)
	if err != nil {
		return nil, err
	}
	return resultDoc(res), nil
}

type managerCatalog struct{ m *pool.Manager }

func (c managerCatalog) Pools() []router.PoolInfo {
	pools := c.m.Pools()
	out := make([]router.PoolInfo, 0, len(pools))
	for _, p := range pools {
		out = append(out, router.PoolInfo{
			ID:       p.ID,
			Kind:     p.Kind,
			Health:   p.Health(),
			Inflight: int(p.Inflight()),
			Queued:   int(p.Queued()),
			MaxSize:  p.Config.Max,
		})
	}
	return out
}

func resultDoc(res task.Result) map[string]any {
	return map[string]any{
		"task_id":     string(res.TaskID),
		"worker_id":   res.WorkerID,
		"status":      string(res.Status),
		"artifact":    string(res.Artifact),
		"stderr_tail": string(res.StderrTail),
		"duration_ms": res.Duration.Milliseconds(),
	}
}

type scaleRequest struct {
	PoolID string `json:"pool_id"`
	Target int    `json:"target"`
}

func (s *Server) handleScale(ctx context.Context, payload json.RawMessage) (any, error) {
	var req scaleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.resolvePool(req.PoolID)
	if err != nil {
		return nil, err
	}
	size, err := s.pools.Scale(ctx, p, req.Target)
	if err != nil {
		return nil, err
	}
	return map[string]any{"current_size": size}, nil
}

type poolIDRequest struct {
	PoolID string `json:"pool_id"`
}

func (s *Server) handleClose(ctx context.Context, payload json.RawMessage) (any, error) {
	var req poolIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.resolvePool(req.PoolID)
	if err != nil {
		return nil, err
	}
	if err := s.pools.Close(ctx, p); err != nil {
		return nil, err
	}
	return map[string]any{"closed": true}, nil
}

func (s *Server) handleCloseAll(ctx context.Context, _ json.RawMessage) (any, error) {
	for _, p := range s.pools.Pools() {
		if err := s.pools.Close(ctx, p); err != nil {
			return nil, err
		}
	}
	return map[string]any{"closed": true}, nil
}

func (s *Server) handleList(_ context.Context, _ json.RawMessage) (any, error) {
	pools := s.pools.Pools()
	out := make([]map[string]any, 0, len(pools))
	for _, p := range pools {
		out = append(out, map[string]any{
			"pool_id":      string(p.ID),
			"kind":         string(p.Kind),
			"current_size": p.CurrentSize(),
			"health":       string(p.Health()),
		})
	}
	return out, nil
}

func (s *Server) handleHealth(_ context.Context, payload json.RawMessage) (any, error) {
	var req poolIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	p, err := s.resolvePool(req.PoolID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"health": string(p.Health())}
	if s.cluster != nil {
		byNode := make(map[string]string)
		for node, h := range s.cluster.ClusterHealth(p.ID) {
			byNode[node] = string(h)
		}
		out["cluster"] = byNode
	}
	return out, nil
}

type memorySearchRequest struct {
	PoolIDs []string `json:"pool_ids"`
	Query   string   `json:"query"`
	K       int      `json:"k"`
}

func (s *Server) handleMemorySearch(ctx context.Context, payload json.RawMessage) (any, error) {
	var req memorySearchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	refs := make([]aggregator.PoolRef, 0, len(req.PoolIDs))
	for i, id := range req.PoolIDs {
		p, err := s.resolvePool(id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, aggregator.PoolRef{Pool: p, Priority: len(req.PoolIDs) - i})
	}
	result := s.agg.Search(ctx, req.Query, req.K, refs)
	return map[string]any{
		"candidates": result.Candidates,
		"failed":     result.Failed,
	}, nil
}

type workerSpawnRequest struct {
	Kind            string `json:"kind"`
	CommandTemplate string `json:"command_template"`
}

// handleWorkerSpawn spawns a worker directly, outside any pool, and adds
// it to the server's standalone registry. Only subprocess-ai is supported
// over the tool surface, since the other kinds need a collaborator
// (ContainerRuntime, PeerClient, ScreenSnapshotter) that isn't expressible
// as JSON; those kinds are spawned as part of a pool's configured launcher
// metadata instead.
func (s *Server) handleWorkerSpawn(ctx context.Context, payload json.RawMessage) (any, error) {
	var req workerSpawnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	kind := worker.Kind(req.Kind)
	if kind == "" {
		kind = worker.KindSubprocessAI
	}
	if kind != worker.KindSubprocessAI {
		return nil, fmt.Errorf("server: worker.spawn supports kind %q only; %q workers are spawned via a pool's launcher metadata", worker.KindSubprocessAI, kind)
	}
	if req.CommandTemplate == "" {
		return nil, fmt.Errorf("server: worker.spawn requires command_template")
	}

	h, err := s.workers.Spawn(ctx, kind, worker.LauncherMetadata{
		"launcher":         worker.ExecLauncher{},
		"command_template": req.CommandTemplate,
	})
	if err != nil {
		return nil, err
	}

	s.standaloneMu.Lock()
	s.standalone[h.ID] = h
	s.standaloneMu.Unlock()
	return map[string]any{"worker_id": string(h.ID)}, nil
}

func (s *Server) resolveWorker(id string) (*worker.Handle, error) {
	s.standaloneMu.Lock()
	defer s.standaloneMu.Unlock()
	h, ok := s.standalone[worker.ID(id)]
	if !ok {
		return nil, kernel.ErrUnknownWorker
	}
	return h, nil
}

type workerExecuteRequest struct {
	WorkerID string  `json:"worker_id"`
	Task     taskDoc `json:"task"`
}

func (s *Server) handleWorkerExecute(ctx context.Context, payload json.RawMessage) (any, error) {
	var req workerExecuteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	h, err := s.resolveWorker(req.WorkerID)
	if err != nil {
		return nil, err
	}
	res, err := s.workers.Execute(ctx, h, req.Task.toTask(time.Now()))
	if err != nil {
		return nil, err
	}
	return resultDoc(res), nil
}

type workerExecuteBatchRequest struct {
	WorkerID string    `json:"worker_id"`
	Tasks    []taskDoc `json:"tasks"`
}

// handleWorkerExecuteBatch runs every task in req.Tasks on the same
// worker, one at a time (a worker holds only one task at a time), and
// returns one result per task in submission order. A task that fails to
// execute still yields a slot in the returned slice, carrying the error
// in its own result rather than aborting the remaining tasks.
func (s *Server) handleWorkerExecuteBatch(ctx context.Context, payload json.RawMessage) (any, error) {
	var req workerExecuteBatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	h, err := s.resolveWorker(req.WorkerID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(req.Tasks))
	for _, td := range req.Tasks {
		res, err := s.workers.Execute(ctx, h, td.toTask(time.Now()))
		if err != nil {
			out = append(out, map[string]any{"error": err.Error()})
			continue
		}
		out = append(out, resultDoc(res))
	}
	return out, nil
}

func (s *Server) handleWorkerList(_ context.Context, _ json.RawMessage) (any, error) {
	s.standaloneMu.Lock()
	handles := make([]*worker.Handle, 0, len(s.standalone))
	for _, h := range s.standalone {
		handles = append(handles, h)
	}
	s.standaloneMu.Unlock()

	out := make([]map[string]any, 0, len(handles))
	for _, h := range handles {
		out = append(out, map[string]any{
			"worker_id": string(h.ID),
			"kind":      string(h.Kind),
			"state":     string(h.State()),
		})
	}
	return out, nil
}

type workerIDRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleWorkerClose(ctx context.Context, payload json.RawMessage) (any, error) {
	var req workerIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	h, err := s.resolveWorker(req.WorkerID)
	if err != nil {
		return nil, err
	}
	if err := s.workers.Close(ctx, h); err != nil {
		return nil, err
	}
	s.standaloneMu.Lock()
	delete(s.standalone, h.ID)
	s.standaloneMu.Unlock()
	return map[string]any{"closed": true}, nil
}

func (s *Server) handleWorkerCloseAll(ctx context.Context, _ json.RawMessage) (any, error) {
	s.standaloneMu.Lock()
	handles := make([]*worker.Handle, 0, len(s.standalone))
	for _, h := range s.standalone {
		handles = append(handles, h)
	}
	s.standaloneMu.Unlock()

	for _, h := range handles {
		if err := s.workers.Close(ctx, h); err != nil {
			return nil, err
		}
		s.standaloneMu.Lock()
		delete(s.standalone, h.ID)
		s.standaloneMu.Unlock()
	}
	return map[string]any{"closed": true}, nil
}

type msgSendRequest struct {
	From      string            `json:"from"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Priority  int               `json:"priority"`
	Context   map[string]string `json:"context"`
	InReplyTo string            `json:"in_reply_to"`
}

func (s *Server) handleMsgSend(ctx context.Context, payload json.RawMessage) (any, error) {
	var req msgSendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := s.bus.Send(ctx, req.From, req.To, req.Subject, []byte(req.Body), req.Priority, req.Context, req.InReplyTo)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": id}, nil
}

type msgListRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleMsgList(ctx context.Context, payload json.RawMessage) (any, error) {
	var req msgListRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	msgs, err := s.bus.List(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

type msgAckRequest struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s *Server) handleMsgAck(ctx context.Context, payload json.RawMessage) (any, error) {
	var req msgAckRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.bus.Acknowledge(ctx, req.MessageID, bus.Status(req.Status)); err != nil {
		return nil, err
	}
	return map[string]any{"acknowledged": true}, nil
}

type msgForwardRequest struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Prepend   string `json:"prepend"`
}

func (s *Server) handleMsgForward(ctx context.Context, payload json.RawMessage) (any, error) {
	var req msgForwardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := s.bus.Forward(ctx, req.MessageID, req.To, req.Prepend)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": id}, nil
}

type msgBroadcastRequest struct {
	From     string            `json:"from"`
	To       []string          `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Priority int               `json:"priority"`
	Context  map[string]string `json:"context"`
}

func (s *Server) handleMsgBroadcast(ctx context.Context, payload json.RawMessage) (any, error) {
	var req msgBroadcastRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	sent, failed := s.bus.Broadcast(ctx, req.From, req.To, req.Subject, []byte(req.Body), req.Priority, req.Context)
	failedOut := make(map[string]string, len(failed))
	for recipient, err := range failed {
		failedOut[recipient] = err.Error()
	}
	return map[string]any{"sent": sent, "failed": failedOut}, nil
}

var (
	emptySchema             = []byte(`{"type":"object"}`)
	poolIDSchema            = []byte(`{"type":"object","properties":{"pool_id":{"type":"string"}},"required":["pool_id"]}`)
	poolSpawnSchema         = []byte(`{"type":"object","properties":{"kind":{"type":"string"},"min":{"type":"integer"},"max":{"type":"integer"},"strategy":{"type":"string"}},"required":["kind","min","max"]}`)
	poolScaleSchema         = []byte(`{"type":"object","properties":{"pool_id":{"type":"string"},"target":{"type":"integer"}},"required":["pool_id","target"]}`)
	poolExecuteSchema       = []byte(`{"type":"object","properties":{"pool_id":{"type":"string"},"task":{"type":"object"}},"required":["pool_id","task"]}`)
	poolRouteExecuteSchema  = []byte(`{"type":"object","properties":{"strategy":{"type":"string"},"task":{"type":"object"}},"required":["task"]}`)
	poolMemorySearchSchema  = []byte(`{"type":"object","properties":{"pool_ids":{"type":"array","items":{"type":"string"}},"query":{"type":"string"},"k":{"type":"integer"}},"required":["pool_ids","query","k"]}`)

	workerIDSchema           = []byte(`{"type":"object","properties":{"worker_id":{"type":"string"}},"required":["worker_id"]}`)
	workerSpawnSchema        = []byte(`{"type":"object","properties":{"kind":{"type":"string"},"command_template":{"type":"string"}},"required":["command_template"]}`)
	workerExecuteSchema      = []byte(`{"type":"object","properties":{"worker_id":{"type":"string"},"task":{"type":"object"}},"required":["worker_id","task"]}`)
	workerExecuteBatchSchema = []byte(`{"type":"object","properties":{"worker_id":{"type":"string"},"tasks":{"type":"array","items":{"type":"object"}}},"required":["worker_id","tasks"]}`)

	msgSendSchema      = []byte(`{"type":"object","properties":{"from":{"type":"string"},"to":{"type":"string"},"subject":{"type":"string"},"body":{"type":"string"},"priority":{"type":"integer"}},"required":["from","to"]}`)
	msgListSchema      = []byte(`{"type":"object","properties":{"recipient":{"type":"string"}},"required":["recipient"]}`)
	msgAckSchema       = []byte(`{"type":"object","properties":{"message_id":{"type":"string"},"status":{"type":"string"}},"required":["message_id","status"]}`)
	msgForwardSchema   = []byte(`{"type":"object","properties":{"message_id":{"type":"string"},"to":{"type":"string"},"prepend":{"type":"string"}},"required":["message_id","to"]}`)
	msgBroadcastSchema = []byte(`{"type":"object","properties":{"from":{"type":"string"},"to":{"type":"array","items":{"type":"string"}},"subject":{"type":"string"},"body":{"type":"string"},"priority":{"type":"integer"}},"required":["from","to"]}`)
)
