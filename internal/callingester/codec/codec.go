package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/callingester/model"
)

// PropertyForwardingTimeMs is the pulsar message property in which the ingress reports how long
// the record spent in the forwarding hop.
const PropertyForwardingTimeMs = "forwardingTimeMs"

// TimestampLayout is the layout timestamps are written in, with up to microsecond precision.
// Decode also accepts RFC3339.
const TimestampLayout = "2006-01-02 15:04:05.999999"

var (
	durationPattern  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	timestampLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC3339Nano}
)

// DecodeError is returned for payloads that are not well formed JSON or that violate the record
// schema. Violations lists every problem found, not just the first.
type DecodeError struct {
	Violations []string
	cause      error
}

func (e *DecodeError) Error() string {
	return "invalid call record: " + strings.Join(e.Violations, "; ")
}

func (e *DecodeError) Cause() error {
	return e.cause
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

type wireParticipant struct {
	Address  *string  `json:"participantAddress"`
	Type     *string  `json:"participantType"`
	Status   *string  `json:"status"`
	Duration *float64 `json:"duration"`
}

type wireRecord struct {
	OverallCallStatus    *string            `json:"Overall_Call_Status"`
	CustomerName         *string            `json:"Customer_Name"`
	ClientCorrelationId  *string            `json:"Client_Correlation_Id"`
	CallType             *string            `json:"callType"`
	ConversationDuration *float64           `json:"conversationDuration"`
	OverallCallDuration  *string            `json:"Overall_Call_Duration"`
	CampaignId           *string            `json:"Campaign_Id"`
	CampaignName         *string            `json:"Campaign_Name"`
	CallerId             *string            `json:"Caller_ID"`
	DtmfCapture          json.RawMessage    `json:"DTMF_Capture"`
	Participants         *[]wireParticipant `json:"participants"`
	Timestamp            *string            `json:"timestamp"`
	SessionId            *string            `json:"Session_ID"`
}

// Decode parses one queue payload. Any failure is a *DecodeError.
func Decode(raw []byte) (*model.EventRecord, error) {
	var wire wireRecord
	var result *multierror.Error

	mistyped := map[string]bool{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || typeErr.Field == "" {
			return nil, &DecodeError{Violations: []string{"payload is not a JSON object: " + err.Error()}, cause: err}
		}
		// encoding/json keeps going after a type mismatch, so the remaining fields are still checked.
		mistyped[typeErr.Field] = true
		result = multierror.Append(result, fmt.Errorf("field %s: expected %s, got JSON %s", typeErr.Field, typeErr.Type, typeErr.Value))
	}

	required := func(name string, present bool) bool {
		if !present && !mistyped[name] {
			result = multierror.Append(result, fmt.Errorf("field %s: required", name))
		}
		return present
	}

	record := &model.EventRecord{}
	if required("Overall_Call_Status", wire.OverallCallStatus != nil) {
		record.OverallCallStatus = model.CallStatus(*wire.OverallCallStatus)
		if !record.OverallCallStatus.IsValid() {
			result = multierror.Append(result, fmt.Errorf("field Overall_Call_Status: %q is not one of %v", *wire.OverallCallStatus, model.CallStatuses))
		}
	}
	if required("Customer_Name", wire.CustomerName != nil) {
		record.CustomerName = *wire.CustomerName
	}
	if required("Client_Correlation_Id", wire.ClientCorrelationId != nil) {
		record.ClientCorrelationId = *wire.ClientCorrelationId
	}
	if required("callType", wire.CallType != nil) {
		record.CallType = model.CallType(*wire.CallType)
		if !record.CallType.IsValid() {
			result = multierror.Append(result, fmt.Errorf("field callType: %q is not one of %v", *wire.CallType, model.CallTypes))
		}
	}
	if required("conversationDuration", wire.ConversationDuration != nil) {
		record.ConversationDuration = *wire.ConversationDuration
	}
	if required("Overall_Call_Duration", wire.OverallCallDuration != nil) {
		record.OverallCallDuration = *wire.OverallCallDuration
		if !durationPattern.MatchString(record.OverallCallDuration) {
			result = multierror.Append(result, fmt.Errorf("field Overall_Call_Duration: %q does not match HH:MM:SS", record.OverallCallDuration))
		}
	}
	if required("Campaign_Id", wire.CampaignId != nil) {
		record.CampaignId = *wire.CampaignId
	}
	if required("Campaign_Name", wire.CampaignName != nil) {
		record.CampaignName = *wire.CampaignName
	}
	if required("Caller_ID", wire.CallerId != nil) {
		record.CallerId = *wire.CallerId
	}
	dtmf, err := decodeDtmf(wire.DtmfCapture)
	if err != nil {
		result = multierror.Append(result, err)
	}
	record.DtmfCapture = dtmf
	if required("participants", wire.Participants != nil) {
		participants, err := decodeParticipants(*wire.Participants)
		if err != nil {
			result = multierror.Append(result, err)
		}
		record.Participants = participants
	}
	if required("timestamp", wire.Timestamp != nil) {
		ts, err := ParseTimestamp(*wire.Timestamp)
		if err != nil {
			result = multierror.Append(result, err)
		}
		record.Timestamp = ts
	}
	if required("Session_ID", wire.SessionId != nil) {
		record.SessionId = *wire.SessionId
	}
	for _, field := range []struct{ name, value string }{
		{"Customer_Name", record.CustomerName},
		{"Client_Correlation_Id", record.ClientCorrelationId},
		{"Campaign_Id", record.CampaignId},
		{"Campaign_Name", record.CampaignName},
		{"Caller_ID", record.CallerId},
		{"Session_ID", record.SessionId},
	} {
		if err := checkText(field.name, field.value); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if result.ErrorOrNil() != nil {
		violations := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			violations[i] = e.Error()
		}
		return nil, &DecodeError{Violations: violations, cause: result}
	}
	return record, nil
}

func decodeDtmf(raw json.RawMessage) (*int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch string(trimmed) {
	case "0":
		v := 0
		return &v, nil
	case "1":
		v := 1
		return &v, nil
	}
	return nil, fmt.Errorf("field DTMF_Capture: %s is not 0, 1 or null", trimmed)
}

func decodeParticipants(wire []wireParticipant) ([]model.Participant, error) {
	var result *multierror.Error
	participants := make([]model.Participant, len(wire))
	for i, p := range wire {
		missing := func(name string, present bool) {
			if !present {
				result = multierror.Append(result, fmt.Errorf("field participants[%d].%s: required", i, name))
			}
		}
		missing("participantAddress", p.Address != nil)
		missing("participantType", p.Type != nil)
		missing("status", p.Status != nil)
		missing("duration", p.Duration != nil)
		for _, field := range []struct {
			name  string
			value *string
		}{{"participantAddress", p.Address}, {"participantType", p.Type}, {"status", p.Status}} {
			if field.value == nil {
				continue
			}
			if err := checkText(fmt.Sprintf("participants[%d].%s", i, field.name), *field.value); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if p.Address != nil && p.Type != nil && p.Status != nil && p.Duration != nil {
			participants[i] = model.Participant{
				Address:  *p.Address,
				Type:     *p.Type,
				Status:   *p.Status,
				Duration: *p.Duration,
			}
		}
	}
	return participants, result.ErrorOrNil()
}

// checkText rejects strings postgres cannot hold. A NUL fails TEXT columns and JSONB alike, and
// would fail the whole batch at insert time.
func checkText(name, value string) error {
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("field %s: contains a NUL character", name)
	}
	return nil
}

// ParseTimestamp accepts "YYYY-MM-DD HH:MM:SS", the same with a T separator, or RFC3339, each
// with optional fractional seconds. Timestamps without a zone are taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("field timestamp: %q is not a YYYY-MM-DD HH:MM:SS timestamp", s)
}

// EncodeRecord renders record in the wire format that Decode accepts.
func EncodeRecord(record *model.EventRecord) ([]byte, error) {
	participants := make([]wireParticipant, len(record.Participants))
	for i := range record.Participants {
		p := record.Participants[i]
		participants[i] = wireParticipant{Address: &p.Address, Type: &p.Type, Status: &p.Status, Duration: &p.Duration}
	}
	dtmf := json.RawMessage("null")
	if record.DtmfCapture != nil {
		dtmf = json.RawMessage(fmt.Sprintf("%d", *record.DtmfCapture))
	}
	status := string(record.OverallCallStatus)
	callType := string(record.CallType)
	ts := record.Timestamp.UTC().Format(TimestampLayout)
	wire := wireRecord{
		OverallCallStatus:    &status,
		CustomerName:         &record.CustomerName,
		ClientCorrelationId:  &record.ClientCorrelationId,
		CallType:             &callType,
		ConversationDuration: &record.ConversationDuration,
		OverallCallDuration:  &record.OverallCallDuration,
		CampaignId:           &record.CampaignId,
		CampaignName:         &record.CampaignName,
		CallerId:             &record.CallerId,
		DtmfCapture:          dtmf,
		Participants:         &participants,
		Timestamp:            &ts,
		SessionId:            &record.SessionId,
	}
	payload, err := json.Marshal(wire)
	return payload, errors.WithStack(err)
}

// Encode converts a drained batch into storage rows, preserving order. The buffer dwell time of
// each row is the time between it entering the buffer and now, the moment its batch is handed to
// storage.
func Encode(batch []*model.BufferedRecord, now time.Time) ([]*model.StoredRow, error) {
	rows := make([]*model.StoredRow, len(batch))
	for i, buffered := range batch {
		record := buffered.Record
		participants := record.Participants
		if participants == nil {
			participants = []model.Participant{}
		}
		participantsData, err := json.Marshal(participants)
		if err != nil {
			return nil, errors.WithMessagef(err, "encoding participants of record %s", record.ClientCorrelationId)
		}
		var dtmf *int32
		if record.DtmfCapture != nil {
			v := int32(*record.DtmfCapture)
			dtmf = &v
		}
		rows[i] = &model.StoredRow{
			OverallCallStatus:    string(record.OverallCallStatus),
			CustomerName:         record.CustomerName,
			ClientCorrelationId:  record.ClientCorrelationId,
			CallType:             string(record.CallType),
			ConversationDuration: record.ConversationDuration,
			OverallCallDuration:  record.OverallCallDuration,
			CampaignId:           record.CampaignId,
			CampaignName:         record.CampaignName,
			CallerId:             record.CallerId,
			DtmfCapture:          dtmf,
			ParticipantsData:     participantsData,
			CallTimestamp:        record.Timestamp,
			SessionId:            record.SessionId,
			ProcessingTimeMs:     buffered.ForwardingTimeMs,
			BufferDwellMs:        millis(now.Sub(buffered.Buffered)),
		}
	}
	return rows, nil
}

func millis(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d.Microseconds()) / 1000
}
