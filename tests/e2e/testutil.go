//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/nidhogg/alice/internal/provider"
)

// Package-level shared state, set by TestMain.
var (
	testNeo4jURI  string
	testPGDSN     string
	testRedisURL  string
	testLLMConfig *llmTestConfig
)

type llmTestConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("alice_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return "redis://" + endpoint, cleanup, nil
}

func loadLLMConfig() {
	endpoint := os.Getenv("ALICE_TEST_PROVIDER_ENDPOINT")
	apiKey := os.Getenv("ALICE_TEST_PROVIDER_API_KEY")
	model := os.Getenv("ALICE_TEST_PROVIDER_MODEL")
	if endpoint != "" && model != "" {
		testLLMConfig = &llmTestConfig{Endpoint: endpoint, APIKey: apiKey, Model: model}
	}
}

// scriptedChat answers every decision with a fixed action. Reflection
// prompts get a reflection object.
type scriptedChat struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (s *scriptedChat) Route(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for _, m := range req.Messages {
		if strings.Contains(m.Content, `"reflection"`) {
			return &provider.ChatResponse{Content: `{"summary": "a long day", "reflection": "Someone here hides a secret."}`}, nil
		}
	}
	return &provider.ChatResponse{Content: s.reply}, nil
}

const observeLily = `{"thought": "Look closer at her.", "action": {"tool_name": "observe_detail", "parameters": {"target_name": "Lily"}}}`
