package messaging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase            = errors.New("database handle is required")
	errMissingRunner              = errors.New("task runner is required")
	errMissingStore               = errors.New("message store is required")
	errMissingTabGroupService     = errors.New("tab group sync service is required")
	errMissingDataSharingService  = errors.New("data sharing service is required")
	errMissingTabGroupNotifier    = errors.New("tab group change notifier is required")
	errMissingDataSharingNotifier = errors.New("data sharing change notifier is required")
	errMissingIDProvider          = errors.New("id provider is required")
	errStoreNotInitialized        = errors.New("message store is not initialized")
	errMissingCollaboration       = errors.New("collaboration id could not be resolved")
	errUnknownMessageCategory     = errors.New("message category is unknown")
	noOpLogger                    = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return noOpLogger
	}
	return logger
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	loggerOrNop(logger).Error("messaging error", attrs...)
}
