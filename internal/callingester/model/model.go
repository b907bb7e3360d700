package model

import (
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
)

type CallStatus string

const (
	CallStatusAnswered  CallStatus = "Answered"
	CallStatusMissed    CallStatus = "Missed"
	CallStatusConnected CallStatus = "Connected"
)

var CallStatuses = []CallStatus{CallStatusAnswered, CallStatusMissed, CallStatusConnected}

func (s CallStatus) IsValid() bool {
	switch s {
	case CallStatusAnswered, CallStatusMissed, CallStatusConnected:
		return true
	}
	return false
}

type CallType string

const (
	CallTypeInbound  CallType = "INBOUND"
	CallTypeOutbound CallType = "OUTBOUND"
)

var CallTypes = []CallType{CallTypeInbound, CallTypeOutbound}

func (t CallType) IsValid() bool {
	return t == CallTypeInbound || t == CallTypeOutbound
}

type Participant struct {
	Address  string  `json:"participantAddress"`
	Type     string  `json:"participantType"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
}

// EventRecord is one call event as accepted at the ingress boundary. Every field is mandatory
// except DtmfCapture, which is nil when absent and otherwise 0 or 1.
type EventRecord struct {
	OverallCallStatus    CallStatus
	CustomerName         string
	ClientCorrelationId  string
	CallType             CallType
	ConversationDuration float64
	// Fixed HH:MM:SS format
	OverallCallDuration string
	CampaignId          string
	CampaignName        string
	CallerId            string
	DtmfCapture         *int
	Participants        []Participant
	Timestamp           time.Time
	SessionId           string
}

// BufferedRecord is a decoded record waiting in the buffer for the next flush, together with what
// is needed to acknowledge its message and to compute its performance metrics.
type BufferedRecord struct {
	Record    *EventRecord
	MessageId pulsar.MessageID
	// Time the record spent in the upstream forwarding hop, as reported by the ingress.
	ForwardingTimeMs float64
	// Time the record was appended to the buffer.
	Buffered time.Time
}

// StoredRow is the persisted form of a record: one row of the call_records table.
type StoredRow struct {
	OverallCallStatus    string
	CustomerName         string
	ClientCorrelationId  string
	CallType             string
	ConversationDuration float64
	OverallCallDuration  string
	CampaignId           string
	CampaignName         string
	CallerId             string
	DtmfCapture          *int32
	ParticipantsData     []byte
	CallTimestamp        time.Time
	SessionId            string
	ProcessingTimeMs     float64
	// Time the record waited in the buffer before its batch was handed to storage. Persisted in
	// the storage_time_ms column.
	BufferDwellMs        float64
}
