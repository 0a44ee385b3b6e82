// Package app composes the raffle daemon.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Wiring and lifecycle
//	├── domain/             # Data model (raffle, random, ledger)
//	├── events/             # Watermill event bus for engine notifications
//	├── httpapi/            # REST and websocket API
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # HTTP server and database bootstrap
//	├── services/           # Engine, ledger, randomness coordinator, keeper
//	├── storage/            # Store interfaces, memory and postgres backends
//	└── system/             # Service lifecycle manager
//
// # Dependency Direction
//
//	cmd/raffled/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► services/raffle ──► ledger, oracle (interfaces)
//	                               ├──► services/random (coordinator, dispatcher)
//	                               ├──► services/automation (keeper)
//	                               └──► storage/{memory,postgres}
//
// The engine never imports the coordinator. The application registers the
// engine's OnRandomness as the coordinator callback for the raffle consumer.
package app
