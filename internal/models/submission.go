package models

import "time"

// FormSubmit is one immutable record of data posted against a form.
// Origin holds the submitter's Origin header when present.
type FormSubmit struct {
	FormID     string            `json:"formId"`
	Origin     string            `json:"origin,omitempty"`
	Parameters map[string]string `json:"parameters"`
	Datetime   time.Time         `json:"datetime"`
}
