package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/pharmadesk/internal/cache"
	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/database"
	"github.com/Additional-Code/pharmadesk/internal/logger"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
	"github.com/Additional-Code/pharmadesk/internal/observability"
	repositoryorder "github.com/Additional-Code/pharmadesk/internal/repository/order"
	repositoryuser "github.com/Additional-Code/pharmadesk/internal/repository/user"
	grpcserver "github.com/Additional-Code/pharmadesk/internal/server/grpc"
	httpserver "github.com/Additional-Code/pharmadesk/internal/server/http"
	serviceauth "github.com/Additional-Code/pharmadesk/internal/service/auth"
	serviceorder "github.com/Additional-Code/pharmadesk/internal/service/order"
	"github.com/Additional-Code/pharmadesk/internal/tracking"
	transporthttp "github.com/Additional-Code/pharmadesk/internal/transport/http"
	"github.com/Additional-Code/pharmadesk/internal/worker"
	workerorder "github.com/Additional-Code/pharmadesk/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	tracking.Module,
	repositoryorder.Module,
	repositoryuser.Module,
	serviceorder.Module,
	serviceauth.Module,
)

// HTTP wires the HTTP transport and the gRPC health endpoint on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
