package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"serialization": {err: &pgconn.PgError{Code: codeSerializationFailure}, want: true},
		"deadlock":      {err: &pgconn.PgError{Code: codeDeadlockDetected}, want: true},
		"unique":        {err: fmt.Errorf("write: %w", &pgconn.PgError{Code: codeUniqueViolation}), want: true},
		"syntax":        {err: &pgconn.PgError{Code: "42601"}, want: false},
		"plain":         {err: errors.New("boom"), want: false},
		"nil":           {err: nil, want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}
