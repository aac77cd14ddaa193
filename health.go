package main

import (
	"context"
	"log"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// startHealthLoops spawns one checker per configured upstream, each on its
// own healthCheckInterval. The pool itself stays cadence-free; this loop is
// the external driver of its mark/reconnect transitions.
func startHealthLoops(ctx context.Context, pool *UpstreamPool, upstreams []*UpstreamConfig) {
	for _, conf := range upstreams {
		interval := time.Duration(conf.HealthCheckInterval)
		if interval <= 0 {
			interval = defaultHealthInterval
		}
		go runHealthLoop(ctx, pool, conf.Name, interval)
	}
}

func runHealthLoop(ctx context.Context, pool *UpstreamPool, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkUpstream(ctx, pool, name)
		}
	}
}

func checkUpstream(ctx context.Context, pool *UpstreamPool, name string) {
	state, ok := pool.GetState(name)
	if !ok {
		// removed from the pool; the loop dies with it
		return
	}
	switch state {
	case StateConnected:
		handle := pool.GetUpstream(name)
		if handle == nil {
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := handle.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("<health> ping %s: %v", name, err)
			_ = pool.MarkUnhealthy(name)
		}
	case StateUnhealthy, StateDisconnected:
		reconnectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := pool.ReconnectUpstream(reconnectCtx, name)
		cancel()
		if err != nil {
			log.Printf("<health> reconnect %s: %v", name, err)
		}
	}
}
