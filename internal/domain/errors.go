package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrResourceNotReady   = errors.New("resource not ready")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrUnknownVariant     = errors.New("unknown model variant")
	ErrDownloadInProgress = errors.New("download already in progress")
	ErrControllerClosed   = errors.New("onboarding controller closed")
	ErrInvalidTransition  = errors.New("invalid tracker transition")
)

// NotReadyError lists the resources that failed live verification.
type NotReadyError struct {
	Resources []ResourceID
}

// Error formats the missing resources for display.
func (e *NotReadyError) Error() string {
	names := make([]string, 0, len(e.Resources))
	for _, r := range e.Resources {
		names = append(names, string(r))
	}
	return fmt.Sprintf("cannot complete onboarding: %s model not ready", strings.Join(names, " and "))
}

// Is matches ErrResourceNotReady.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrResourceNotReady
}
