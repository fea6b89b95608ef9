// Package app composes the catalogue into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (remote services, layers, links, journals)
//	├── storage/            # Store interfaces plus memory and postgres implementations
//	├── services/           # Harvesting, journals and the thumbnail bucket
//	├── httpapi/            # HTTP routes, tastypie-style journal resource, catalogue page
//	├── runtime/            # Process wiring from configuration
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus metrics
//
// # Dependency Direction
//
//	cmd/geoharvest/
//	      │
//	      ▼
//	internal/app/runtime
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services/harvest ──► internal/serviceprocessors
//	      │                                          │
//	      │                                          └──► internal/remote/{wms,arcgis,geoserver,pki}
//	      │
//	      └──► internal/app/storage/{memory,postgres}
//
// Business rules live in services and serviceprocessors. HTTP handling stays
// in httpapi and persistence in storage.
package app
