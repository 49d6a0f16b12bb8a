package homework

import "fmt"

// Validate enforces the shape of a decoded API payload and returns its
// records. Checks run in order: payload is an object, object is not empty,
// "homeworks" is present, "homeworks" is an array. The first element is the
// one a cycle reports, so it must be a well-formed record; later elements
// that are malformed are left out.
func Validate(payload any) ([]Record, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: response is %s, want object", ErrTypeMismatch, typeName(payload))
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: response object has no keys", ErrEmptyResponse)
	}
	raw, ok := m[KeyHomeworks]
	if !ok {
		return nil, fmt.Errorf("%w: response has no %q key", ErrMissingField, KeyHomeworks)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s, want array", ErrTypeMismatch, KeyHomeworks, typeName(raw))
	}

	records := make([]Record, 0, len(items))
	for i, it := range items {
		r, err := recordFromItem(i, it)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func recordFromItem(idx int, it any) (Record, error) {
	obj, ok := it.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("%w: homeworks[%d] is %s, want object", ErrTypeMismatch, idx, typeName(it))
	}
	return recordFromObject(idx, obj)
}
