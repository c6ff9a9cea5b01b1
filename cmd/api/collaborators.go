package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nilefi/backend/internal/consensus"
	"github.com/nilefi/backend/internal/escrow"
	"github.com/nilefi/backend/internal/storage"
)

// collaborators bundles the external services the platform talks to.
type collaborators struct {
	Ledger       consensus.Service
	Escrow       escrow.Service
	Storage      storage.Service
	DefaultTopic string
}

// buildCollaborators selects ledger, escrow and storage implementations from
// LEDGER_MODE, ESCROW_MODE and STORAGE_MODE. Only "mock" ships today; a real
// Hedera or IPFS adapter plugs in by satisfying the same interfaces.
func buildCollaborators(ctx context.Context, logger *slog.Logger) (*collaborators, error) {
	c := &collaborators{}

	switch mode := envMode("LEDGER_MODE"); mode {
	case "mock":
		c.Ledger = consensus.NewMockService()
	default:
		return nil, fmt.Errorf("unsupported LEDGER_MODE %q", mode)
	}

	switch mode := envMode("ESCROW_MODE"); mode {
	case "mock":
		c.Escrow = escrow.NewMockService()
	default:
		return nil, fmt.Errorf("unsupported ESCROW_MODE %q", mode)
	}

	switch mode := envMode("STORAGE_MODE"); mode {
	case "mock":
		c.Storage = storage.NewMockService()
	default:
		return nil, fmt.Errorf("unsupported STORAGE_MODE %q", mode)
	}

	// Platform-wide topic for events on requests that never got their own.
	topic := os.Getenv("LEDGER_DEFAULT_TOPIC")
	if topic == "" {
		created, err := c.Ledger.CreateTopic(ctx, "nilefi-platform")
		if err != nil {
			return nil, fmt.Errorf("create default topic: %w", err)
		}
		topic = created
		logger.Info("created platform ledger topic", "topic_id", topic)
	}
	c.DefaultTopic = topic

	return c, nil
}

func envMode(key string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return "mock"
	}
	return v
}
