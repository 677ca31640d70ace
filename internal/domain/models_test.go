package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadSizeToCredits(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{23, 1},
		{24, 1},
		{25, 2},
		{48, 2},
		{49, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PayloadSizeToCredits(tt.size), "size %d", tt.size)
	}
}

func TestPayerAccountAvailable(t *testing.T) {
	assert.Equal(t, uint64(7), PayerAccount{Balance: 10, Burned: 3}.Available())
	assert.Equal(t, uint64(0), PayerAccount{Balance: 3, Burned: 3}.Available())
	// A refreshed balance below what is still owed leaves nothing to spend.
	assert.Equal(t, uint64(0), PayerAccount{Balance: 2, Burned: 5}.Available())
}

func TestParsePacketType(t *testing.T) {
	assert.Equal(t, PacketTypeUplink, ParsePacketType("uplink"))
	assert.Equal(t, PacketTypeJoin, ParsePacketType("JOIN"))
	assert.Equal(t, PacketTypeUnknown, ParsePacketType("downlink"))
	assert.Equal(t, "unknown", PacketTypeUnknown.String())
}

func TestInvalidPacketEncodesReasonAsText(t *testing.T) {
	data, err := json.Marshal(InvalidPacket{PayloadSize: 12, Reason: InvalidReasonOrgLocked})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reason":"org_locked"`)
}
