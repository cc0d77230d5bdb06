package core

import "strings"

// Environment is the deployment stage the server runs in.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// IsProduction switches logging to JSON at info level.
func (e Environment) IsProduction() bool {
	return e == Production
}

// ParseEnvironment accepts the full names and their common short forms
// (dev, stage, test, prod). Anything else is Development.
func ParseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "testing", "test":
		return Testing
	default:
		return Development
	}
}
