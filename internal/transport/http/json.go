package httpserver

import (
	"encoding/json"
	"net/http"
	"time"
)

type registerResponseJSON struct {
	MeterID   string `json:"meterId"`
	Owner     string `json:"owner,omitempty"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"createdAt"`
	Message   string `json:"message"`
}

type readingAckJSON struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type consumptionJSON struct {
	MeterID      string  `json:"meterId"`
	Period       string  `json:"period"`
	Consumption  float64 `json:"consumption"`
	StartTime    string  `json:"startTime"`
	StartReading float64 `json:"startReading"`
	EndTime      string  `json:"endTime"`
	EndReading   float64 `json:"endReading"`
}

type archiveResponseJSON struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	Period           string   `json:"period"`
	Partition        string   `json:"partition"`
	DevicesArchived  int      `json:"devicesArchived"`
	ReadingsArchived int      `json:"readingsArchived"`
	Evicted          int      `json:"evicted"`
	FailedDevices    []string `json:"failedDevices,omitempty"`
}

type systemStatusJSON struct {
	Success         bool   `json:"success,omitempty"`
	Message         string `json:"message,omitempty"`
	IsReceivingData bool   `json:"isReceivingData"`
	Timestamp       string `json:"timestamp"`
}

type apiErrorJSON struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
