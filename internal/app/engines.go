package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/config"
)

const defaultEngine = "default"

type agentSetup struct {
	engine string
	detail string
}

// agentLister is the part of *adhapi.Client used to resolve the agent engine.
type agentLister interface {
	AgentList(ctx context.Context) ([]string, error)
	AgentDefault(ctx context.Context) (string, error)
}

// resolveAgent picks the agent engine for the first turn. "default" asks the
// server for its default engine; an explicit engine is kept even when the
// server does not list it so that a server started later can still serve it.
func resolveAgent(ctx context.Context, client agentLister, cfg config.Config) agentSetup {
	mode := strings.TrimSpace(cfg.AgentEngine)
	if mode == "" {
		mode = defaultEngine
	}

	if mode == defaultEngine {
		engine, err := client.AgentDefault(ctx)
		if err != nil || strings.TrimSpace(engine) == "" {
			detail := "server default (unresolved)"
			if err != nil {
				detail = fmt.Sprintf("server default (unresolved: %v)", err)
			}
			return agentSetup{engine: defaultEngine, detail: detail}
		}
		return agentSetup{engine: engine, detail: engine + " (server default)"}
	}

	engines, err := client.AgentList(ctx)
	switch {
	case err != nil:
		return agentSetup{engine: mode, detail: fmt.Sprintf("%s (unverified: %v)", mode, err)}
	case !slices.Contains(engines, mode):
		return agentSetup{engine: mode, detail: fmt.Sprintf("%s (not offered by server: %s)", mode, strings.Join(engines, ", "))}
	default:
		return agentSetup{engine: mode, detail: mode}
	}
}

// probeUpstream reports whether the ADH server accepts TCP connections and
// answers its heartbeat. It never fails the build.
func probeUpstream(ctx context.Context, client *adhapi.Client, cfg config.Config, logger *slog.Logger) bool {
	addr := upstreamAddr(cfg.ServerURL)
	if addr != "" && !isTCPListening(addr, 500*time.Millisecond) {
		logger.Warn("adh server not reachable", "addr", addr)
		return false
	}
	if err := client.Heartbeat(ctx, cfg.HeartbeatWait); err != nil {
		logger.Warn("adh heartbeat failed", "url", client.HeartbeatURL(), "error", err)
		return false
	}
	return true
}

func upstreamAddr(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func isTCPListening(addr string, timeout time.Duration) bool {
	if strings.TrimSpace(addr) == "" {
		return false
	}
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
