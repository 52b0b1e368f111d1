package services

// HealthService answers liveness probes. Readiness of the backing stores is
// surfaced through metrics; the probe itself stays cheap.
type HealthService struct{}

func NewHealthService() *HealthService {
	return &HealthService{}
}

func (s *HealthService) Get() error {
	return nil
}
