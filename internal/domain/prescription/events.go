package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventPrescriptionIssued  EventType = "PrescriptionIssued"
	EventPrescriptionDeleted EventType = "PrescriptionDeleted"
	EventPrescriptionsPurged EventType = "PrescriptionsPurged"
)

// AggregateType is the aggregate name carried by every event.
const AggregateType = "Prescription"

// Deletion reasons
const (
	ReasonRequested      = "requested"
	ReasonPatientDeleted = "patient_deleted"
	ReasonRetention      = "retention"
	ReasonManualPurge    = "manual_purge"
)

// Event represents a lifecycle event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if aggregateID == "" {
		aggregateID = id
	}
	return &Event{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// IssuedData describes a newly issued prescription
type IssuedData struct {
	PrescriptionID string `json:"prescription_id"`
	PatientID      string `json:"patient_id"`
	IssueDate      string `json:"issue_date"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	ItemCount      int    `json:"item_count"`
	BatchSize      int    `json:"batch_size,omitempty"`
}

// DeletedData describes a removed prescription
type DeletedData struct {
	PrescriptionID string `json:"prescription_id"`
	PatientID      string `json:"patient_id"`
	Reason         string `json:"reason"`
}

// PurgedData describes a bulk removal
type PurgedData struct {
	Count        int64  `json:"count"`
	IssuedBefore string `json:"issued_before,omitempty"`
	Reason       string `json:"reason"`
}
