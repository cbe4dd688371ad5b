package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinComma(t *testing.T) {
	assert.Equal(t, "EUR_USD,GBP_USD", joinComma([]string{"EUR_USD", "GBP_USD"}))
	assert.Equal(t, "EUR_USD", joinComma([]string{"EUR_USD"}))
	assert.Equal(t, "", joinComma(nil))
}
