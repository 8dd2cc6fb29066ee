// Package validation checks DynamoDB resource names before they reach the service
package validation

import (
	"fmt"
	"regexp"
)

// DynamoDB name limits
const (
	MinNameLength = 3
	MaxNameLength = 255
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// NameError reports an invalid table or index name
type NameError struct {
	Kind   string
	Name   string
	Detail string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Kind, e.Name, e.Detail)
}

func validateName(kind, name string) error {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return &NameError{Kind: kind, Name: name, Detail: fmt.Sprintf("length must be %d-%d", MinNameLength, MaxNameLength)}
	}
	if !namePattern.MatchString(name) {
		return &NameError{Kind: kind, Name: name, Detail: "only letters, digits, '_', '-' and '.' are allowed"}
	}
	return nil
}

// TableName validates a DynamoDB table name
func TableName(name string) error {
	return validateName("table", name)
}

// IndexName validates a DynamoDB index name
func IndexName(name string) error {
	return validateName("index", name)
}
