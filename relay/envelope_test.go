package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestDecodeTagIsolation asserts an envelope is only ever accepted by the
// stage it is addressed to.
func TestDecodeTagIsolation(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		tag := rapid.SampledFrom([]Direction{
			ToContentScript, ToWebpage,
		}).Draw(t, "tag")
		want := rapid.SampledFrom([]Direction{
			ToContentScript, ToWebpage,
		}).Draw(t, "want")

		env := &Envelope{
			For: tag,
			ID:  rapid.Uint64().Draw(t, "id"),
			Method: rapid.StringMatching(`[a-z_]{1,20}`).Draw(
				t, "method",
			),
			Response: json.RawMessage(`"ok"`),
		}
		msg, err := env.Encode()
		require.NoError(t, err)

		decoded, err := Decode(msg, want)
		if tag != want {
			require.ErrorIs(t, err, ErrForeignTag)
			return
		}

		require.NoError(t, err)
		require.Equal(t, env.ID, decoded.ID)
	})
}

// TestDecodeMalformed asserts garbage and incomplete envelopes are refused.
func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
	}{
		{name: "not json", msg: `{for:`},
		{name: "unknown tag", msg: `{"for":"popup","id":1}`},
		{name: "no tag", msg: `{"id":1,"method":"x"}`},
		{name: "request without method", msg: `{"for":"contentScript",` +
			`"id":1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.msg), ToContentScript)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

// TestEnvelopeHelpers covers request construction, params and error
// responses.
func TestEnvelopeHelpers(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(
		7, "wallet_switchEthereumChain", "https://dapp.example",
		map[string]string{"chainId": "0x1"},
	)
	require.NoError(t, err)
	require.Equal(t, ToContentScript, req.For)
	require.False(t, req.IsResponse())
	require.Contains(t, spewEnvelope(req).String(),
		"wallet_switchEthereumChain")

	var param struct {
		ChainID string `json:"chainId"`
	}
	require.NoError(t, req.Param(0, &param))
	require.Equal(t, "0x1", param.ChainID)

	var rpcErr *RPCError
	require.ErrorAs(t, req.Param(1, &param), &rpcErr)
	require.Equal(t, CodeInvalidParams, rpcErr.Code)

	resp := NewErrorResponse(req, NewUserRejectedError())
	require.True(t, resp.IsResponse())
	require.Equal(t, uint64(7), resp.ID)
	require.Equal(t, CodeUserRejected, resp.Error.Code)

	resp = NewErrorResponse(req, errors.New("boom"))
	require.Equal(t, CodeInternal, resp.Error.Code)
	require.Equal(t, "boom", resp.Error.Message)

	resp, err = NewResponse(req, []string{"0xabc"})
	require.NoError(t, err)
	require.JSONEq(t, `["0xabc"]`, string(resp.Response))
	require.Nil(t, resp.Error)
}
