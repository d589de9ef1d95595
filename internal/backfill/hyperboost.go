package backfill

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	hyperBoostContainer = "backfill-hyperboost"
	// Ollama listens on 11434 inside the container; the host mapping uses a
	// different port so a host-level Ollama install does not collide.
	hyperBoostPort     = 11434
	hyperBoostHostPort = 11437

	defaultHyperBoostImage   = "ollama/ollama:latest"
	defaultHyperBoostModel   = "embeddinggemma"
	defaultHyperBoostNetwork = "alt_alt-network"

	hyperBoostReadyTimeout = 60 * time.Second
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// HyperBoost runs a throwaway GPU-backed Ollama container for the duration of
// a backfill, so bulk embedding does not queue behind the shared embedder.
type HyperBoost struct {
	containerID string
	image       string
	model       string
	network     string
	logger      *slog.Logger
}

// NewHyperBoost builds a controller for the boost container. Image, model and
// docker network can be overridden via BACKFILL_HYPERBOOST_IMAGE,
// BACKFILL_HYPERBOOST_MODEL and BACKFILL_HYPERBOOST_NETWORK.
func NewHyperBoost(logger *slog.Logger) (*HyperBoost, error) {
	return &HyperBoost{
		image: envOr("BACKFILL_HYPERBOOST_IMAGE", defaultHyperBoostImage),
		// The pulled model must match the orchestrator's EMBEDDER_MODEL;
		// the orchestrator embeds through the override URL with its own
		// model name.
		model:   envOr("BACKFILL_HYPERBOOST_MODEL", defaultHyperBoostModel),
		network: envOr("BACKFILL_HYPERBOOST_NETWORK", defaultHyperBoostNetwork),
		logger:  logger,
	}, nil
}

// docker runs a docker subcommand and returns trimmed stdout.
func (h *HyperBoost) docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %w (stderr: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Start launches the Ollama container with GPU access on the orchestrator's
// docker network. A leftover container from a crashed run is removed first.
func (h *HyperBoost) Start(ctx context.Context) error {
	h.logger.Info("starting hyper-boost container",
		slog.String("image", h.image),
		slog.String("network", h.network),
	)

	if stale, err := h.docker(ctx, "ps", "-aq", "-f", "name="+hyperBoostContainer); err == nil && stale != "" {
		h.logger.Info("removing stale hyper-boost container")
		_, _ = h.docker(ctx, "rm", "-f", hyperBoostContainer)
	}

	id, err := h.docker(ctx,
		"run", "--rm", "-d",
		"--name", hyperBoostContainer,
		"--network", h.network,
		"--gpus", "all",
		"-p", fmt.Sprintf("%d:%d", hyperBoostHostPort, hyperBoostPort),
		"-e", "NVIDIA_VISIBLE_DEVICES=all",
		"-e", "NVIDIA_DRIVER_CAPABILITIES=compute,utility",
		"-e", "OLLAMA_NUM_PARALLEL=8",
		h.image,
	)
	if err != nil {
		return fmt.Errorf("start hyper-boost container: %w", err)
	}

	h.containerID = id
	shortID := id
	if len(shortID) > 12 {
		shortID = shortID[:12]
	}
	h.logger.Info("hyper-boost container started", slog.String("container_id", shortID))
	return nil
}

// WaitReady polls the container's Ollama API until it answers or the ready
// timeout elapses.
func (h *HyperBoost) WaitReady(ctx context.Context) error {
	h.logger.Info("waiting for hyper-boost to become ready")

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/api/tags", hyperBoostHostPort)
	deadline := time.Now().Add(hyperBoostReadyTimeout)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				h.logger.Info("hyper-boost is ready")
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("hyper-boost not ready after %s", hyperBoostReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PullModel downloads the embedding model into the container. The pull
// endpoint streams progress lines; they are drained but not surfaced.
func (h *HyperBoost) PullModel(ctx context.Context) error {
	h.logger.Info("pulling embedding model", slog.String("model", h.model))

	url := fmt.Sprintf("http://localhost:%d/api/pull", hyperBoostHostPort)
	body := fmt.Sprintf(`{"name": %q}`, h.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", h.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pull model %s: status %d: %s", h.model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read pull progress: %w", err)
	}

	h.logger.Info("embedding model ready", slog.String("model", h.model))
	return nil
}

// Stop stops the container. The --rm flag removes it once stopped.
func (h *HyperBoost) Stop(ctx context.Context) error {
	if h.containerID == "" {
		return nil
	}

	h.logger.Info("stopping hyper-boost container")
	if _, err := h.docker(ctx, "stop", hyperBoostContainer); err != nil {
		h.logger.Warn("failed to stop hyper-boost container", slog.String("error", err.Error()))
	}
	h.containerID = ""
	return nil
}

// EmbedderURL is the container-name URL the orchestrator reaches the boost
// container at. Only valid while both sit on the same docker network.
func (h *HyperBoost) EmbedderURL() string {
	return fmt.Sprintf("http://%s:%d", hyperBoostContainer, hyperBoostPort)
}

// Close releases client-side resources. The container itself is stopped by
// Stop.
func (h *HyperBoost) Close() error {
	return nil
}
