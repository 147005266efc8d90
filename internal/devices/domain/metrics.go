package devices

import "time"

// Metrics is an immutable telemetry snapshot for one device, produced once
// per evaluation tick by the polling or MQTT collaborator.
type Metrics struct {
	DeviceID         string    `json:"device_id"`
	Online           bool      `json:"online"`
	SOC              float64   `json:"soc"`
	Temperature      float64   `json:"temperature"`
	ACInputWatts     float64   `json:"ac_input_watts"`
	ACOutputWatts    float64   `json:"ac_output_watts"`
	SolarInputWatts  float64   `json:"solar_input_watts"`
	DCOutputWatts    float64   `json:"dc_output_watts"`
	TotalInputWatts  float64   `json:"total_input_watts"`
	TotalOutputWatts float64   `json:"total_output_watts"`
	HasError         bool      `json:"has_error"`
	ErrorCodes       []int     `json:"error_codes,omitempty"`
	CollectedAt      time.Time `json:"collected_at"`
}
