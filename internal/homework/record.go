package homework

import "fmt"

// JSON keys of the API payload.
const (
	KeyHomeworks       = "homeworks"
	KeyName            = "homework_name"
	KeyStatus          = "status"
	KeyReviewerComment = "reviewer_comment"
	KeyLessonName      = "lesson_name"
	KeyDateUpdated     = "date_updated"
	KeyID              = "id"
)

// Record is a single entry of the "homeworks" array.
//
// Empty strings mean the field was absent; Parse decides which absences are
// fatal. ID, LessonName and DateUpdated are informational only.
type Record struct {
	ID              string
	Name            string
	Status          string
	ReviewerComment string
	LessonName      string
	DateUpdated     string
}

func recordFromObject(idx int, m map[string]any) (Record, error) {
	var (
		r   Record
		err error
	)
	str := func(key string) string {
		if err != nil {
			return ""
		}
		v, ok := m[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			err = fmt.Errorf("%w: homeworks[%d].%s is %s, want string", ErrTypeMismatch, idx, key, typeName(v))
			return ""
		}
		return s
	}

	r.Name = str(KeyName)
	r.Status = str(KeyStatus)
	r.ReviewerComment = str(KeyReviewerComment)
	r.LessonName = str(KeyLessonName)
	r.DateUpdated = str(KeyDateUpdated)
	if err != nil {
		return Record{}, err
	}
	if v, ok := m[KeyID]; ok && v != nil {
		r.ID = fmt.Sprint(v)
	}
	return r, nil
}

// typeName describes a decoded JSON value for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		if _, ok := v.(fmt.Stringer); ok {
			// json.Number when the decoder runs with UseNumber.
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}
