package application

import (
	"time"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// HealthReport is the service liveness view served by the health endpoint.
type HealthReport struct {
	Status    string
	Timestamp time.Time
	Database  model.ConnectionStatus
	Uptime    time.Duration
}

// HealthService reports process liveness and the storage connection state.
// It depends only on port interfaces.
type HealthService struct {
	connection driven.ConnectionStatusReader
	startedAt  time.Time
	now        func() time.Time
}

// NewHealthService creates a HealthService. Uptime is measured from now.
func NewHealthService(connection driven.ConnectionStatusReader) *HealthService {
	return &HealthService{
		connection: connection,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// Report assembles the current health view. The process is reported "ok"
// even while storage is reconnecting; Database carries the detail.
func (s *HealthService) Report() HealthReport {
	now := s.now()
	return HealthReport{
		Status:    "ok",
		Timestamp: now.UTC(),
		Database:  s.connection.Status(),
		Uptime:    now.Sub(s.startedAt),
	}
}
