package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	e := New(ErrKindSchemaMismatch, "no columns in staging.city")
	assert.Equal(t, "[schema_mismatch] no columns in staging.city", e.Error())

	wrapped := Wrap(ErrKindConnectionFailed, "postgres connect failed", errors.New("connection refused"))
	assert.Equal(t, "[connection_failed] postgres connect failed: connection refused", wrapped.Error())
}

func TestPredicatesThroughWrapping(t *testing.T) {
	base := Wrap(ErrKindConversion, "cannot coerce 'abc' to integer", errors.New("strconv"))
	// Predicates must see through fmt.Errorf %w chains.
	chained := fmt.Errorf("table apprentice: %w", base)

	assert.True(t, IsConversion(chained))
	assert.False(t, IsSchemaMismatch(chained))
	assert.False(t, IsConversion(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("server is starting up")
	e := Wrap(ErrKindConnectionFailed, "connect", cause)
	require.ErrorIs(t, e, cause)
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind ErrKind
		want string
	}{
		{ErrKindNotFound, "not_found"},
		{ErrKindConnectionFailed, "connection_failed"},
		{ErrKindSchemaMismatch, "schema_mismatch"},
		{ErrKindConversion, "conversion"},
		{ErrKindTransaction, "transaction"},
		{ErrKindConfiguration, "configuration"},
		{ErrKindUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
