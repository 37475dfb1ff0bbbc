package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// rpcError mimics a go-ethereum JSON-RPC error response
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"limit exceeded code", &rpcError{code: -32005, msg: "query limit exceeded"}, KindRangeTooLarge},
		{"range message", errors.New("block range is too large, max 2000"), KindRangeTooLarge},
		{"more than results", errors.New("query returned more than 10000 results"), KindRangeTooLarge},
		{"rate limited", errors.New("429 Too Many Requests"), KindRateLimited},
		{"stale filter", &rpcError{code: -32000, msg: "filter not found"}, KindBenign},
		{"malformed response", fmt.Errorf("invalid character '<' looking for beginning of value"), KindBenign},
		{"random fault", errors.New("connection reset by peer"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "range_too_large", KindRangeTooLarge.String())
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "benign", KindBenign.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
