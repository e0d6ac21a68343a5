package web

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

type (
	// Session is the mutable, string valued, attribute map of a visitor.
	Session struct {
		mu      sync.Mutex
		id      string
		attrs   map[string]string
		changed bool
	}

	Store interface {
		Load(ctx context.Context, sid string) (map[string]string, error)
		Save(ctx context.Context, sid string, attrs map[string]string) error
		Delete(ctx context.Context, sid string) error
		// Touch records a visit to sid and reports if the session exists.
		Touch(ctx context.Context, sid string) (bool, error)
	}

	// Manager attaches a Session to every request, loaded through a
	// gorilla sessions store that keeps only the signed id in the cookie.
	Manager struct {
		store   Store
		cookies *CookieStore
		name    string
	}

	// sessionWriter saves the session right before the response
	// headers are sent.
	sessionWriter struct {
		http.ResponseWriter
		once   sync.Once
		commit func()
	}

	sessionKey struct{}
)

const (
	DefaultCookieName = "authopenid_session"
	DefaultMaxAge     = 90 * 24 * 60 * 60
)

func NewSession(id string) *Session {
	return &Session{id: id, attrs: map[string]string{}}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

func (s *Session) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.attrs[name]; ok && old == value {
		return
	}
	s.attrs[name] = value
	s.changed = true
}

func (s *Session) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[name]; !ok {
		return
	}
	delete(s.attrs, name)
	s.changed = true
}

func (s *Session) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Regenerate moves the attributes to a new id. The old id is dropped
// when the session is saved. Call it before the session is granted
// more privileges, ie.: after a login.
func (s *Session) Regenerate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.changed = true
}

func (s *Session) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// NewManager keeps sessions in store, secret signs the session id sent
// in the cookie.
func NewManager(store Store, secret []byte, allowHTTPCookie bool) *Manager {
	cookies := NewCookieStore(store, secret)
	cookies.Options.Secure = !allowHTTPCookie
	return &Manager{
		store:   store,
		cookies: cookies,
		name:    DefaultCookieName,
	}
}

// Middleware loads the session of the visitor before calling next and
// persists it before the response is written, if it was modified.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logutil.GetOrDefault(r.Context())
		stored, err := m.cookies.Get(r, m.name)
		if err != nil {
			log.Error().Err(err).Msg("Unable to load session")
			http.Error(w, "unable to load session, check logs for more information", http.StatusInternalServerError)
			return
		}
		if stored.IsNew {
			stored.ID = uuid.NewString()
		}
		sess := NewSession(stored.ID)
		for k, v := range stored.Values {
			name, _ := k.(string)
			value, _ := v.(string)
			sess.attrs[name] = value
		}
		sw := &sessionWriter{ResponseWriter: w}
		sw.commit = func() { m.commit(r, w, stored, sess) }
		next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sess)))
		sw.once.Do(sw.commit)
	})
}

func (m *Manager) commit(r *http.Request, w http.ResponseWriter, stored *sessions.Session, sess *Session) {
	if !sess.Changed() {
		return
	}
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	if id := sess.ID(); id != stored.ID {
		if !stored.IsNew {
			if err := m.store.Delete(ctx, stored.ID); err != nil {
				log.Error().Err(err).Str("sid", stored.ID).Msg("Unable to drop regenerated session")
			}
		}
		stored.ID = id
	}
	values := sess.snapshot()
	if len(values) == 0 && stored.IsNew {
		return
	}
	stored.Values = make(map[interface{}]interface{}, len(values))
	for k, v := range values {
		stored.Values[k] = v
	}
	if len(values) == 0 {
		stored.Options.MaxAge = -1
	}
	if err := stored.Save(r, w); err != nil {
		log.Error().Err(err).Str("sid", stored.ID).Msg("Unable to persist session")
	}
}

func (w *sessionWriter) WriteHeader(code int) {
	w.once.Do(w.commit)
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.once.Do(w.commit)
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
