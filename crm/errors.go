package crm

import (
	"encoding/json"
	"fmt"
)

// StatusError is any non-2xx CRM response, carrying the raw body so callers
// can inspect provider-reported error payloads.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm returned HTTP %d: %s", e.StatusCode, truncateBody(e.Body, 256))
}

func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}

// crmErrorBody is the structured error payload the CRM returns on a failed
// record operation.
type crmErrorBody struct {
	Data []struct {
		Code    string `json:"code"`
		Details struct {
			DuplicateRecord struct {
				ID string `json:"id"`
			} `json:"duplicate_record"`
		} `json:"details"`
	} `json:"data"`
}

const duplicateDataCode = "DUPLICATE_DATA"

// duplicateRecordID extracts the existing record id from a duplicate-on-create
// error body. Returns "" when the body is not a duplicate-record error.
func duplicateRecordID(body []byte) string {
	var parsed crmErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	for _, item := range parsed.Data {
		if item.Code == duplicateDataCode && item.Details.DuplicateRecord.ID != "" {
			return item.Details.DuplicateRecord.ID
		}
	}
	return ""
}
