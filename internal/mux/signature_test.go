package mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	payload := []byte(`{"type":"video.asset.ready","data":{"id":"A1"}}`)
	secret := "whsec"
	valid := SignatureHeaderValue(payload, secret, now)

	tests := []struct {
		name    string
		header  string
		payload []byte
		now     time.Time
		want    error
	}{
		{name: "valid", header: valid, payload: payload, now: now},
		{name: "valid within tolerance", header: valid, payload: payload, now: now.Add(4 * time.Minute)},
		{name: "extra signatures", header: valid + ",v1=deadbeef", payload: payload, now: now},
		{name: "missing", header: "", payload: payload, now: now, want: ErrMissingSignature},
		{name: "no timestamp", header: "v1=abc", payload: payload, now: now, want: ErrMalformedHeader},
		{name: "bad timestamp", header: "t=soon,v1=abc", payload: payload, now: now, want: ErrMalformedHeader},
		{name: "stale", header: valid, payload: payload, now: now.Add(6 * time.Minute), want: ErrStaleSignature},
		{name: "tampered body", header: valid, payload: []byte(`{"type":"video.asset.errored"}`), now: now, want: ErrBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, secret, tt.now)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
