package consumer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/andrebq/authopenid/web"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSessionKey = "openid_session_data"

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	host := web.NewSession("abc")
	s := NewSession(ctx, host, testSessionKey)
	require.Equal(t, 0, s.Len())

	require.NoError(t, s.Set("claimed_id", "http://bob.example.com/"))
	require.NoError(t, s.Set("op_endpoint", "http://op.example.com/auth"))
	require.Equal(t, []string{testSessionKey}, host.Keys(), "only a single host key should be used")

	other := NewSession(ctx, host, testSessionKey)
	v, ok := other.Get("claimed_id")
	require.True(t, ok)
	require.Equal(t, "http://bob.example.com/", v)
	require.Equal(t, []string{"claimed_id", "op_endpoint"}, other.Keys())
}

func TestSessionRemovesEmptyKey(t *testing.T) {
	ctx := context.Background()
	host := web.NewSession("abc")
	host.Set("authname", "bob")
	s := NewSession(ctx, host, testSessionKey)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Delete("a"))
	require.False(t, host.Has(testSessionKey))
	require.True(t, host.Has("authname"))

	require.NoError(t, s.Set("a", "1"))
	s.Clear()
	require.False(t, host.Has(testSessionKey))
	require.NoError(t, s.Save(map[string]string{}))
	require.False(t, host.Has(testSessionKey))
}

func TestSessionToleratesGarbage(t *testing.T) {
	var buf bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&buf))
	for _, garbage := range []string{"not base64 at all!", "AAAA", "oWFh"} {
		host := web.NewSession("abc")
		host.Set(testSessionKey, garbage)
		s := NewSession(ctx, host, testSessionKey)
		require.Empty(t, s.Load(), "payload %q", garbage)
		require.NoError(t, s.Set("a", "1"))
		v, _ := s.Get("a")
		require.Equal(t, "1", v)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("undecodable data should be logged as a warning, got %v", buf.String())
	}
}
