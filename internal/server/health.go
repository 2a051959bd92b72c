package server

import (
	"github.com/mantonx/gstream/internal/events"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TransportService is the health service name tracking the host connection.
// The overall ("") status is SERVING while the process runs.
const TransportService = "gstream.transport"

var transportEventTypes = []events.EventType{
	events.EventConnected,
	events.EventDisconnected,
	events.EventConnectFailed,
}

func newHealthServer(connected bool) *health.Server {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(TransportService, transportStatus(connected))
	return srv
}

func transportStatus(connected bool) healthpb.HealthCheckResponse_ServingStatus {
	if connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func updateHealth(srv *health.Server, ev events.Event) {
	switch ev.Type {
	case events.EventConnected:
		srv.SetServingStatus(TransportService, healthpb.HealthCheckResponse_SERVING)
	case events.EventDisconnected, events.EventConnectFailed:
		srv.SetServingStatus(TransportService, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}
