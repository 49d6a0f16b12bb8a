package homework

import (
	"fmt"
	"strings"
)

// Parse renders the notification text for a record:
//
//	Status of submission "<name>" changed. <verdict>[ <reviewer comment>]
//
// The reviewer comment is omitted when absent or blank.
func Parse(r Record) (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("%w: record has no %q", ErrMissingField, KeyName)
	}
	if r.Status == "" {
		return "", fmt.Errorf("%w: record %q has no %q", ErrMissingField, r.Name, KeyStatus)
	}
	verdict, ok := Verdict(r.Status)
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownStatus, r.Status, strings.Join(Statuses(), ", "))
	}

	msg := fmt.Sprintf("Status of submission \"%s\" changed. %s", r.Name, verdict)
	if c := strings.TrimSpace(r.ReviewerComment); c != "" {
		msg += " " + c
	}
	return msg, nil
}
