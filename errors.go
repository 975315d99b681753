package platform

import (
	"errors"
)

// Platform errors
var (
	// Registry errors
	ErrModuleNotFound  = errors.New("module not found")
	ErrDuplicateModule = errors.New("module already registered")
	ErrModuleNil       = errors.New("module is nil")
	ErrModuleIDEmpty   = errors.New("module id is empty")

	// Lifecycle errors
	ErrInitTimeout               = errors.New("module initialization timed out")
	ErrModuleDegraded            = errors.New("module is degraded")
	ErrModuleDestroyed           = errors.New("module is destroyed")
	ErrModuleNotActive           = errors.New("module is not active")
	ErrDataNotSupported          = errors.New("module does not expose data access")
	ErrApplicationNotInitialized = errors.New("application not initialized")
	ErrApplicationStopped        = errors.New("application is stopped")
	ErrOperationFailed           = errors.New("operation failed")
	ErrOperationTimeout          = errors.New("operation timed out")

	// Configuration errors
	ErrConfigSectionNotFound = errors.New("config section not found")
	ErrApplicationNil        = errors.New("application is nil")
	ErrConfigProviderNil     = errors.New("failed to load app config: config provider is nil")
	ErrConfigSectionError    = errors.New("failed to load app config: error triggered by section")

	// Config validation errors
	ErrConfigNil                  = errors.New("config is nil")
	ErrConfigNilPointer           = errors.New("config is nil pointer")
	ErrConfigNotPointer           = errors.New("config must be a pointer")
	ErrConfigNotStruct            = errors.New("config must be a struct")
	ErrConfigRequiredFieldMissing = errors.New("required field is missing")
	ErrConfigValidationFailed     = errors.New("config validation failed")
	ErrUnsupportedTypeForDefault  = errors.New("unsupported type for default value")
	ErrDefaultValueParseError     = errors.New("failed to parse default value")
	ErrConfigFeederError          = errors.New("config feeder error")
	ErrConfigSetupError           = errors.New("config setup error")

	// Service registry errors
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")

	// Service injection errors
	ErrTargetNotPointer      = errors.New("target must be a non-nil pointer")
	ErrTargetValueInvalid    = errors.New("target value is invalid")
	ErrServiceIncompatible   = errors.New("service cannot be assigned to target")
	ErrServiceNil            = errors.New("service is nil")
	ErrServiceWrongType      = errors.New("service doesn't satisfy required type")
	ErrServiceWrongInterface = errors.New("service doesn't satisfy required interface")

	// Dependency resolution errors
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrModuleDependencyMissing = errors.New("module depends on non-existent module")
	ErrRequiredServiceNotFound = errors.New("required service not found for module")

	// Request handling errors
	ErrValidation      = errors.New("validation failed")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrPayloadTooLarge = errors.New("payload too large")

	// Action dispatch errors
	ErrNoActionHandler = errors.New("module does not handle actions")
)
