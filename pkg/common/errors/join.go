package errors

import "errors"

// Join combines errors, dropping nils, so deferred cleanup errors can be
// folded into the primary error without masking it.
func Join(errs ...error) error {
	var errSlice []error
	for _, err := range errs {
		if err != nil {
			errSlice = append(errSlice, err)
		}
	}
	return errors.Join(errSlice...)
}
