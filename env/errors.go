package env

import "fmt"

type (
	EnvironmentNotFound struct {
		Path string
	}

	UpgradeFailed struct {
		Participant string
		cause       error
	}
)

func (e EnvironmentNotFound) Error() string {
	return fmt.Sprintf("environment %v not found, run initenv first", e.Path)
}

func (u UpgradeFailed) Error() string {
	return fmt.Sprintf("unable to upgrade %v, cause %v", u.Participant, u.cause)
}

func (u UpgradeFailed) Unwrap() error {
	return u.cause
}
