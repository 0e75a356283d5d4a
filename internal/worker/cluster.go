package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

const (
	// DefaultNodeHeartbeat is how often a node refreshes its heartbeat key.
	DefaultNodeHeartbeat = 5 * time.Second

	// Heartbeat keys expire after this many missed refreshes.
	heartbeatTTLFactor = 3

	replyTTL   = 10 * time.Minute
	pollWindow = time.Second
	abortPoll  = 200 * time.Millisecond
)

// ErrNoHeartbeat is returned by ClusterRunner.Ping when the node's
// heartbeat key is missing or expired.
var ErrNoHeartbeat = errors.New("cluster node heartbeat missing")

// JobsKey is the list a node consumes jobs from.
func JobsKey(nodeID string) string { return "qexec:node:" + nodeID + ":jobs" }

// HeartbeatKey is refreshed by a live node.
func HeartbeatKey(nodeID string) string { return "qexec:node:" + nodeID + ":heartbeat" }

func abortKey(taskID string, attempt int) string {
	return fmt.Sprintf("qexec:abort:%s:%d", taskID, attempt)
}

func newReplyKey() string { return "qexec:reply:" + uuid.NewString() }

// ClusterRunner executes jobs on a remote node through Redis. Jobs are
// pushed onto the node's list and the result is awaited on a per-job reply
// list.
type ClusterRunner struct {
	id     string
	nodeID string
	rdb    *redis.Client
	logger *slog.Logger
}

var _ Runner = (*ClusterRunner)(nil)

// NewClusterRunner returns a runner that targets nodeID.
func NewClusterRunner(rdb *redis.Client, nodeID string, logger *slog.Logger) *ClusterRunner {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	id := model.RuntimeCluster + "-" + nodeID
	return &ClusterRunner{id: id, nodeID: nodeID, rdb: rdb, logger: logger.With("worker_id", id)}
}

func (c *ClusterRunner) ID() string   { return c.id }
func (c *ClusterRunner) Kind() string { return model.RuntimeCluster }

// Run enqueues job for the node and blocks until a reply arrives or ctx
// ends. On ctx end an abort marker is left for the node.
func (c *ClusterRunner) Run(ctx context.Context, job Job) (backend.Result, error) {
	reply := newReplyKey()
	payload, err := json.Marshal(Request{Type: MsgRun, Job: &job, ReplyKey: reply})
	if err != nil {
		return backend.Result{}, backend.Terminal(job.BackendID, fmt.Errorf("marshal job: %w", err))
	}
	if err := c.rdb.LPush(ctx, JobsKey(c.nodeID), payload).Err(); err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, backend.Retryable(job.BackendID, fmt.Errorf("enqueue job: %w", err))
	}

	for {
		res, err := c.rdb.BRPop(ctx, pollWindow, reply).Result()
		switch {
		case err == nil:
			var resp Response
			if err := json.Unmarshal([]byte(res[1]), &resp); err != nil {
				return backend.Result{}, backend.Retryable(job.BackendID, fmt.Errorf("decode reply: %w", err))
			}
			return decodeResult(job.BackendID, resp)
		case errors.Is(err, redis.Nil):
			if ctx.Err() == nil {
				continue
			}
		}
		if ctx.Err() != nil {
			c.abort(job)
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, backend.Retryable(job.BackendID, fmt.Errorf("await reply: %w", err))
	}
}

func (c *ClusterRunner) abort(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.rdb.Set(ctx, abortKey(job.TaskID, job.Attempt), "1", replyTTL).Err(); err != nil {
		c.logger.Warn("failed to set abort marker", "task_id", job.TaskID, "error", err)
	}
}

// Ping checks the node's heartbeat key.
func (c *ClusterRunner) Ping(ctx context.Context) error {
	n, err := c.rdb.Exists(ctx, HeartbeatKey(c.nodeID)).Result()
	if err != nil {
		return fmt.Errorf("check heartbeat for node %s: %w", c.nodeID, err)
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", c.nodeID, ErrNoHeartbeat)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (c *ClusterRunner) Close() error { return nil }

// NodeConfig configures a cluster node.
type NodeConfig struct {
	ID                string
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// Node consumes jobs from its Redis list and executes them one at a time
// against a local registry.
type Node struct {
	id       string
	rdb      *redis.Client
	reg      *backend.Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewNode returns a node serving cfg.ID.
func NewNode(rdb *redis.Client, reg *backend.Registry, cfg NodeConfig) *Node {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultNodeHeartbeat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Node{id: cfg.ID, rdb: rdb, reg: reg, interval: interval, logger: logger.With("node_id", cfg.ID)}
}

// Serve publishes heartbeats and processes jobs until ctx is cancelled.
// The heartbeat key is removed on return.
func (n *Node) Serve(ctx context.Context) error {
	if err := n.beat(ctx); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}

	var wg sync.WaitGroup
	hbCtx, stop := context.WithCancel(ctx)
	wg.Go(func() { n.heartbeatLoop(hbCtx) })
	defer func() {
		stop()
		wg.Wait()
		delCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.rdb.Del(delCtx, HeartbeatKey(n.id)).Err()
		n.logger.Info("node stopped")
	}()

	n.logger.Info("node serving", "queue", JobsKey(n.id))
	for ctx.Err() == nil {
		res, err := n.rdb.BRPop(ctx, pollWindow, JobsKey(n.id)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			n.logger.Error("failed to read job queue", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		n.handle(ctx, res[1])
	}
	return nil
}

func (n *Node) beat(ctx context.Context) error {
	return n.rdb.Set(ctx, HeartbeatKey(n.id), time.Now().UTC().Format(time.RFC3339Nano),
		n.interval*heartbeatTTLFactor).Err()
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.beat(ctx); err != nil && ctx.Err() == nil {
				n.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (n *Node) handle(ctx context.Context, raw string) {
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		n.logger.Error("discarding malformed job", "error", err)
		return
	}
	if req.Type != MsgRun || req.Job == nil || req.ReplyKey == "" {
		n.logger.Error("discarding job without payload or reply key", "type", req.Type)
		return
	}
	job := *req.Job
	abort := abortKey(job.TaskID, job.Attempt)

	jobCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { n.watchAbort(jobCtx, abort, cancel) })

	start := time.Now()
	resp := handleJob(jobCtx, n.reg, job)
	cancel()
	wg.Wait()

	n.logger.Info("job finished",
		"task_id", job.TaskID,
		"backend_id", job.BackendID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", resp.Error,
	)

	payload, err := json.Marshal(resp)
	if err != nil {
		n.logger.Error("failed to encode reply", "task_id", job.TaskID, "error", err)
		return
	}
	replyCtx, replyCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer replyCancel()
	pipe := n.rdb.TxPipeline()
	pipe.LPush(replyCtx, req.ReplyKey, payload)
	pipe.Expire(replyCtx, req.ReplyKey, replyTTL)
	pipe.Del(replyCtx, abort)
	if _, err := pipe.Exec(replyCtx); err != nil {
		n.logger.Error("failed to publish reply", "task_id", job.TaskID, "error", err)
	}
}

// watchAbort cancels the job when its abort marker appears.
func (n *Node) watchAbort(ctx context.Context, key string, cancel context.CancelFunc) {
	ticker := time.NewTicker(abortPoll)
	defer ticker.Stop()
	for {
		if found, err := n.rdb.Exists(ctx, key).Result(); err == nil && found > 0 {
			n.logger.Info("job aborted by orchestrator", "key", key)
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
