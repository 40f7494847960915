package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpcops/tenantgate/internal/logging"
	"github.com/hpcops/tenantgate/pkg/types"
)

const redisKey = "tenantgate:audit"

// RedisBuffer queues audit events in a Redis list and pushes them in
// batches to an external collector. Without REDIS_ADDR it degrades to a
// no-op so clusters without Redis keep working.
type RedisBuffer struct {
	rdb  *redis.Client
	http *http.Client
	base string
	max  int
	tick time.Duration
	stop chan struct{}
	noop bool
}

func NewRedisBuffer() *RedisBuffer {
	base := getenv("AUDIT_COLLECTOR_URL", "")
	max := getenvInt("AUDIT_BATCH_MAX_ITEMS", 100)
	tick := time.Duration(getenvInt("AUDIT_BATCH_INTERVAL_SECONDS", 10)) * time.Second
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || base == "" {
		return &RedisBuffer{noop: true, http: http.DefaultClient, base: base, max: max, tick: tick, stop: make(chan struct{})}
	}
	return &RedisBuffer{
		rdb:  redis.NewClient(&redis.Options{Addr: addr}),
		http: http.DefaultClient,
		base: base,
		max:  max,
		tick: tick,
		stop: make(chan struct{}),
	}
}

func (b *RedisBuffer) Record(ev types.AuditEvent) {
	if b.noop {
		return
	}
	raw, _ := json.Marshal(ev)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.RPush(ctx, redisKey, raw).Err(); err != nil {
		logging.L.Warn("audit redis push", zap.Error(err))
	}
}

func (b *RedisBuffer) Run() {
	if b.noop {
		return
	}
	go b.loop()
}

func (b *RedisBuffer) Stop() { close(b.stop) }

func (b *RedisBuffer) loop() {
	t := time.NewTicker(b.tick)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.flush()
		}
	}
}

func (b *RedisBuffer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i := 0; i < b.max; i++ {
		raw, err := b.rdb.LPop(ctx, redisKey).Bytes()
		if err != nil {
			return
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, b.base+"/sync/audit", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		resp, err := b.http.Do(req)
		if err != nil {
			logging.L.Warn("audit push", zap.Error(err))
			continue
		}
		_ = resp.Body.Close()
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return d
}
