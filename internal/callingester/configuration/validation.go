package configuration

import (
	"github.com/go-playground/validator/v10"
)

func (c CallIngesterConfiguration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(validateIngesterConfig, CallIngesterConfiguration{})
	validate.RegisterStructValidation(validateDeadLetterConfig, DeadLetterConfig{})
	return validate.Struct(c)
}

func validateIngesterConfig(sl validator.StructLevel) {
	c := sl.Current().Interface().(CallIngesterConfiguration)
	if !c.AckPolicy.IsValid() {
		sl.ReportError(c.AckPolicy, "AckPolicy", "AckPolicy", "ackpolicy", "")
	}
	// A ceiling below the batch size would stop the size trigger from ever firing.
	if c.MaxBufferedRecords > 0 && c.MaxBufferedRecords < c.BatchSize {
		sl.ReportError(c.MaxBufferedRecords, "MaxBufferedRecords", "MaxBufferedRecords", "gtefield", "BatchSize")
	}
}

func validateDeadLetterConfig(sl validator.StructLevel) {
	c := sl.Current().Interface().(DeadLetterConfig)
	if !c.Enabled {
		return
	}
	if c.Stream == "" {
		sl.ReportError(c.Stream, "Stream", "Stream", "required", "")
	}
	if len(c.Redis.Addrs) == 0 {
		sl.ReportError(c.Redis.Addrs, "Addrs", "Addrs", "required", "")
	}
}
