package errors

import "strings"

// Append combines two errors into a single one. Any of the arguments can
// be nil. When both are nil, nil is returned. Use it to aggregate several
// independent validation failures into one result.
func Append(a, b error) error {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}

	var errs multiError
	if m, ok := a.(multiError); ok {
		errs = append(errs, m...)
	} else {
		errs = append(errs, a)
	}
	if m, ok := b.(multiError); ok {
		errs = append(errs, m...)
	} else {
		errs = append(errs, b)
	}
	return errs
}

type multiError []error

func (e multiError) Error() string {
	switch len(e) {
	case 0:
		return "<nil>"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Cause returns the first error of the collection so that root error
// matching with Is keeps working on the fail-fast path.
func (e multiError) Cause() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}
