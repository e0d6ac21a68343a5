package web

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

type (
	// CookieStore is a sessions.Store whose values live in a Store, the
	// cookie only carries the session id signed with securecookie.
	// Cookies that fail verification, or that name a session unknown
	// to the Store, start a new session.
	CookieStore struct {
		Codecs  []securecookie.Codec
		Options *sessions.Options
		store   Store
	}
)

// NewCookieStore takes keyPairs the same way sessions.NewCookieStore does.
func NewCookieStore(store Store, keyPairs ...[]byte) *CookieStore {
	cs := &CookieStore{
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: &sessions.Options{
			Path:     "/",
			MaxAge:   DefaultMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		store: store,
	}
	cs.MaxAge(cs.Options.MaxAge)
	return cs
}

func (s *CookieStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

func (s *CookieStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true
	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var sid string
	if err := securecookie.DecodeMulti(name, c.Value, &sid, s.Codecs...); err != nil {
		return session, nil
	}
	ctx := r.Context()
	found, err := s.store.Touch(ctx, sid)
	if err != nil || !found {
		return session, err
	}
	attrs, err := s.store.Load(ctx, sid)
	if err != nil {
		return session, err
	}
	session.ID = sid
	session.IsNew = false
	for k, v := range attrs {
		session.Values[k] = v
	}
	return session, nil
}

// Save writes the session to the Store and sets the cookie. A negative
// MaxAge deletes the session and expires the cookie.
func (s *CookieStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.store.Delete(ctx, session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	attrs := make(map[string]string, len(session.Values))
	for k, v := range session.Values {
		name, ok := k.(string)
		value, vok := v.(string)
		if !ok || !vok {
			return fmt.Errorf("session attributes must be strings, got %T=%T", k, v)
		}
		attrs[name] = value
	}
	if err := s.store.Save(ctx, session.ID, attrs); err != nil {
		return err
	}
	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("unable to sign session id, cause %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// MaxAge sets the cookie lifetime and how long a signed id is accepted.
func (s *CookieStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, c := range s.Codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}
