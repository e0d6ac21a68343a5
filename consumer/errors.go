package consumer

import "fmt"

type (
	// LoginError is the base of every error caused by the visitor, the
	// other login errors unwrap to a LoginError.
	LoginError struct {
		Message string
		Err     error
	}

	AuthenticationFailed struct {
		Reason string
	}

	AuthenticationCancelled struct{}

	SetupNeeded struct {
		SetupURL string
	}

	DiscoveryFailure struct {
		Identifier string
		Err        error
	}

	// UnhandledStatus means the library returned a status this package
	// does not know about, it is not a LoginError.
	UnhandledStatus struct {
		Status Status
	}
)

func (l LoginError) Error() string {
	if l.Err != nil {
		return fmt.Sprintf("%v, cause %v", l.Message, l.Err)
	}
	return l.Message
}

func (l LoginError) Unwrap() error {
	return l.Err
}

func (a AuthenticationFailed) Error() string {
	if a.Reason == "" {
		return "OpenID authentication failed"
	}
	return fmt.Sprintf("OpenID authentication failed: %v", a.Reason)
}

func (a AuthenticationFailed) Unwrap() error {
	return LoginError{Message: a.Error()}
}

func (AuthenticationCancelled) Error() string {
	return "OpenID authentication cancelled"
}

func (a AuthenticationCancelled) Unwrap() error {
	return LoginError{Message: a.Error()}
}

func (s SetupNeeded) Error() string {
	return "OpenID provider requires setup before authentication can proceed"
}

func (s SetupNeeded) Unwrap() error {
	return LoginError{Message: s.Error()}
}

func (d DiscoveryFailure) Error() string {
	return fmt.Sprintf("unable to discover OpenID endpoint for %v, cause %v", d.Identifier, d.Err)
}

func (d DiscoveryFailure) Unwrap() error {
	return d.Err
}

func (u UnhandledStatus) Error() string {
	return fmt.Sprintf("unhandled OpenID response status %v", u.Status)
}
