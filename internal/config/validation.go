package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", SupportedVersion)
	} else if !strings.HasPrefix(version, SupportedVersion) {
		result.addError("version", "unsupported version '%s' - use '%s'", version, SupportedVersion)
	}

	validateBackendStructure(rawConfig, result)
	validateOTPStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)

	return result, nil
}

func validateBackendStructure(rawConfig map[string]any, result *ValidationResult) {
	backend, ok := rawConfig["backend"].(map[string]any)
	if !ok {
		result.addError("backend", "backend field is required and must be an object")
		return
	}
	if _, ok := backend["baseURL"]; !ok {
		result.addError("backend.baseURL", "baseURL is required. Example: \"https://api.agrosense.app\"")
	}
	checkDuration(backend, "timeout", "backend.timeout", result)
}

func validateOTPStructure(rawConfig map[string]any, result *ValidationResult) {
	otp, ok := rawConfig["otp"].(map[string]any)
	if !ok {
		return
	}
	cooldown := checkDuration(otp, "cooldown", "otp.cooldown", result)
	dismiss := checkDuration(otp, "errorDismiss", "otp.errorDismiss", result)
	if cooldown > 0 && cooldown < time.Minute {
		result.addWarning("otp.cooldown", "cooldown of %s is short - most SMS gateways throttle faster resends", cooldown)
	}
	if cooldown > 0 && dismiss > cooldown {
		result.addWarning("otp.errorDismiss", "errorDismiss (%s) is longer than cooldown (%s)", dismiss, cooldown)
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := rawConfig["storage"].(map[string]any)
	if !ok {
		return
	}

	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case "", StorageKindFile:
	case StorageKindMemory:
		result.addWarning("storage.kind", "memory storage loses the session on restart")
		return
	case StorageKindFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.addError("storage.gcpProject", "gcpProject is required when using firestore storage")
		}
	case StorageKindRedis:
		if _, ok := storage["redisURL"]; !ok {
			result.addError("storage.redisURL", "redisURL is required when using redis storage. Hint: {\"$env\": \"REDIS_URL\"}")
		}
	default:
		result.addError("storage.kind", "unknown storage kind '%s' - use memory, file, firestore or redis", kind)
		return
	}

	value, exists := storage["encryptionKey"]
	if !exists {
		result.addError("storage.encryptionKey", "encryptionKey is required for %s storage. Hint: {\"$env\": \"AGROSENSE_ENCRYPTION_KEY\"}", kindOrDefault(kind))
		return
	}
	if _, isString := value.(string); isString {
		result.addError("storage.encryptionKey", "encryptionKey must use {\"$env\": \"VAR_NAME\"} - secrets must not be stored in the config file")
	}
}

func kindOrDefault(kind string) string {
	if kind == "" {
		return string(StorageKindFile)
	}
	return kind
}

func checkDuration(obj map[string]any, key, path string, result *ValidationResult) time.Duration {
	value, ok := obj[key]
	if !ok {
		return 0
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "%s must be a duration string such as \"300s\"", key)
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration '%s': %v", s, err)
		return 0
	}
	if d <= 0 {
		result.addError(path, "%s must be positive", key)
	}
	return d
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
