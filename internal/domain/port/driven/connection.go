package driven

import "github.com/ericfisherdev/keyvault/internal/domain/model"

// ConnectionStatusReader exposes the storage connection state without
// coupling readers to the supervisor.
type ConnectionStatusReader interface {
	Status() model.ConnectionStatus
}
