package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"

	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/core"
	"github.com/gomind-ai/agentcore/distributor"
	"github.com/gomind-ai/agentcore/orchestrator"
	"github.com/gomind-ai/agentcore/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers := telemetry.InitProviders("agentcore")
	defer providers.Shutdown(context.Background())

	cfg := core.DefaultConfig()
	facade := orchestrator.New(cfg, core.NoAuthValidator{}, core.NewSimpleLogger(), telemetry.NewOTelAdapter("agentcore"))
	facade.Start(ctx)
	defer facade.Shutdown()

	if err := facade.RegisterAgent(ctx, orchestrator.RegisterAgentRequest{
		AgentID: "planner",
	}); err != nil {
		log.Fatalf("register planner: %v", err)
	}
	if err := facade.RegisterAgent(ctx, orchestrator.RegisterAgentRequest{
		AgentID:      "search-worker",
		Capabilities: []string{"search"},
		PriorityRank: 1,
	}); err != nil {
		log.Fatalf("register search-worker: %v", err)
	}

	facade.Subscribe("search-worker", func(m *broker.Message) {
		log.Printf("search-worker received %s message %s", m.Type, m.ID)
	})

	content, _ := json.Marshal(map[string]string{"query": "latest release notes"})
	result, err := facade.DistributeTask(ctx, distributor.DistributeRequest{
		TaskID:   "task-001",
		Required: []string{"search"},
		Data:     json.RawMessage(content),
		SenderID: "planner",
		Strategy: distributor.StrategyCapabilityMatch,
		Priority: broker.PriorityHigh,
	})
	if err != nil {
		log.Fatalf("distribute task: %v", err)
	}
	log.Printf("dispatched task %s to %s via message %s", result.TaskID, result.AgentID, result.MessageID)

	messages, err := facade.GetMessages(ctx, "search-worker", "", true)
	if err != nil {
		log.Fatalf("get messages: %v", err)
	}
	for _, m := range messages {
		log.Printf("search-worker queue had message %s (correlation=%s)", m.ID, m.CorrelationID)
	}

	facade.HandleTaskResponse(result.TaskID, result.AgentID, "completed", nil, nil)
	log.Println("done")
}
