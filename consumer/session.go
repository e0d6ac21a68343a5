package consumer

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
)

type (
	// KeyValue is the host session, *web.Session satisfies it.
	KeyValue interface {
		Get(name string) (string, bool)
		Set(name, value string)
		Delete(name string)
	}

	Codec interface {
		Encode(map[string]string) (string, error)
		Decode(string) (map[string]string, error)
	}

	cborCodec struct {
		enc cbor.EncMode
	}

	// Session stores a whole mapping under a single key of the host session.
	// The key is removed from the host session when the mapping is empty.
	Session struct {
		kv    KeyValue
		key   string
		codec Codec
		log   zerolog.Logger
	}
)

// CBORCodec encodes mappings as base64 of their canonical CBOR form.
func CBORCodec() Codec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		// canonical options are constant, this cannot fail
		panic(err)
	}
	return cborCodec{enc: enc}
}

func (c cborCodec) Encode(m map[string]string) (string, error) {
	buf, err := c.enc.Marshal(m)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (c cborCodec) Decode(s string) (map[string]string, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := cbor.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func NewSession(ctx context.Context, kv KeyValue, key string) *Session {
	return NewSessionWithCodec(ctx, kv, key, CBORCodec())
}

func NewSessionWithCodec(ctx context.Context, kv KeyValue, key string, codec Codec) *Session {
	return &Session{
		kv:    kv,
		key:   key,
		codec: codec,
		log:   logutil.GetOrDefault(ctx),
	}
}

// Load returns the stored mapping. A missing or undecodable value is
// returned as an empty mapping.
func (s *Session) Load() map[string]string {
	raw, ok := s.kv.Get(s.key)
	if !ok || raw == "" {
		return map[string]string{}
	}
	m, err := s.codec.Decode(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("session_key", s.key).Msg("Discarding undecodable OpenID session data")
		return map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}
	return m
}

// Save replaces the stored mapping with m.
func (s *Session) Save(m map[string]string) error {
	if len(m) == 0 {
		s.kv.Delete(s.key)
		return nil
	}
	raw, err := s.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("unable to encode OpenID session data, cause %w", err)
	}
	s.kv.Set(s.key, raw)
	return nil
}

func (s *Session) Get(name string) (string, bool) {
	v, ok := s.Load()[name]
	return v, ok
}

func (s *Session) Set(name, value string) error {
	m := s.Load()
	m[name] = value
	return s.Save(m)
}

func (s *Session) Delete(name string) error {
	m := s.Load()
	delete(m, name)
	return s.Save(m)
}

func (s *Session) Keys() []string {
	m := s.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Len() int {
	return len(s.Load())
}

// Clear removes the key from the host session.
func (s *Session) Clear() {
	s.kv.Delete(s.key)
}
