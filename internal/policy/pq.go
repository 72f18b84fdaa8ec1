package policy

import (
	"errors"

	"github.com/lib/pq"
)

func pqArray(values []string) interface{} {
	return pq.Array(values)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
