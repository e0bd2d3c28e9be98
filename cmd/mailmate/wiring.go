package main

import (
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/ai"
	"github.com/nhle/mailmate/internal/mailbox"
	"github.com/nhle/mailmate/internal/model"
	"github.com/nhle/mailmate/internal/pipeline"
	"github.com/nhle/mailmate/internal/store"
)

// newOrchestrator wires the store, gateway and responder into a pipeline.
func newOrchestrator(cfg *model.AppConfig, st store.Store, log *zap.Logger) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(
		st,
		mailbox.NewGateway(cfg.Mail, log),
		ai.New(cfg.AI, log),
		pipeline.Options{
			ContextMessages: cfg.AI.ContextMessages,
			MarkSeen:        cfg.Mail.MarkSeen,
		},
		log,
	)
}
