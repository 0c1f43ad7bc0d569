package registry

// Service is a long-running agent component started and stopped by the service registry.
// Stop is only called on a service whose Start succeeded.
type Service interface {
	Start() error
	Stop() error
}
