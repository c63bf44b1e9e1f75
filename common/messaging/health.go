package messaging

// HealthStatus is the broker section of a service health report.
type HealthStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckClientHealth reports the connection state of client. A nil client means
// messaging is disabled for the service.
func CheckClientHealth(client Client) HealthStatus {
	if client == nil {
		return HealthStatus{}
	}
	status := HealthStatus{Enabled: true, Connected: client.IsConnected()}
	if !status.Connected {
		status.Error = "not connected to message broker"
	}
	return status
}
