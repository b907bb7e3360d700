package repository

import (
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/model"
)

const dateLayout = "2006-01-02"

// Filter narrows a summary down to matching call records. Empty fields match everything. Dtmf is
// "0", "1" or "null", the latter matching records without a DTMF capture.
type Filter struct {
	CampaignName string `schema:"campaign_name"`
	Dtmf         string `schema:"dtmf"`
	CallStatus   string `schema:"call_status"`
	CallType     string `schema:"call_type"`
	DateFrom     string `schema:"date_from"`
	DateTo       string `schema:"date_to"`
}

// Key identifies the filter for caching.
func (f *Filter) Key() string {
	return strings.Join([]string{f.CampaignName, strings.ToLower(f.Dtmf), f.CallStatus, f.CallType, f.DateFrom, f.DateTo}, "\x00")
}

// Expressions validates the filter and renders it as where clauses on call_records.
func (f *Filter) Expressions() ([]exp.Expression, error) {
	var exps []exp.Expression
	if f.CampaignName != "" {
		exps = append(exps, colCampaignName.Eq(f.CampaignName))
	}
	switch strings.ToLower(f.Dtmf) {
	case "":
	case "null":
		exps = append(exps, colDtmf.IsNull())
	case "0":
		exps = append(exps, colDtmf.Eq(0))
	case "1":
		exps = append(exps, colDtmf.Eq(1))
	default:
		return nil, errors.Errorf("dtmf %q must be 0, 1 or null", f.Dtmf)
	}
	if f.CallStatus != "" {
		if !model.CallStatus(f.CallStatus).IsValid() {
			return nil, errors.Errorf("call_status %q is not one of %v", f.CallStatus, model.CallStatuses)
		}
		exps = append(exps, colStatus.Eq(f.CallStatus))
	}
	if f.CallType != "" {
		if !model.CallType(f.CallType).IsValid() {
			return nil, errors.Errorf("call_type %q is not one of %v", f.CallType, model.CallTypes)
		}
		exps = append(exps, colCallType.Eq(f.CallType))
	}
	if f.DateFrom != "" {
		from, err := parseDate(f.DateFrom)
		if err != nil {
			return nil, errors.WithMessage(err, "date_from")
		}
		exps = append(exps, colTimestamp.Gte(from))
	}
	if f.DateTo != "" {
		to, err := parseDate(f.DateTo)
		if err != nil {
			return nil, errors.WithMessage(err, "date_to")
		}
		exps = append(exps, colTimestamp.Lte(to))
	}
	return exps, nil
}

// parseDate accepts the timestamp layouts of the record codec and bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := codec.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, errors.Errorf("%q is not a date or YYYY-MM-DD HH:MM:SS timestamp", s)
	}
	return t, nil
}
