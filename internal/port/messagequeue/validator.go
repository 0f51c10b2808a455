package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSubmitMissingFields = errors.New("tasks.submit requires title, type and content")
	ErrCancelMissingTask   = errors.New("tasks.cancel requires task_id")
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectTaskSubmit:
		var p TaskSubmitPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Title == "" || p.Type == "" || p.Content == "" {
			return ErrSubmitMissingFields
		}
	case SubjectTaskCancel:
		var p TaskCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TaskID == "" {
			return ErrCancelMissingTask
		}
	}
	return nil
}
