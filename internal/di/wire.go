//go:build wireinject
// +build wireinject

package di

import (
	"FxAlert/pkg/config"
	"FxAlert/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideResources,

		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideDomainMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvidePostgresPool,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideLogCollector,
		ProvideEventBus,

		// Stores
		ProvideStateStore,
		ProvideDedupStore,
		ProvideMemoryLimiter,
		ProvideRateLimiter,
		ProvideEventLog,
		ProvideSubscriptionStore,

		// Outbound services
		ProvidePredictor,
		ProvideChannel,
		ProvideResponder,

		// Use cases
		ProvideDetector,
		ProvideDispatcher,
		ProvideIntentRegistry,
		ProvideAcknowledger,
		ProvideCommandRouter,
		ProvideCommands,

		// Interaction intake
		ProvideIntake,
		ProvideGateway,

		// HTTP
		ProvideHealthChecks,
		ProvideOpsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
