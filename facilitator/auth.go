package facilitator

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// BearerAuth sends a fixed bearer token on every facilitator endpoint.
type BearerAuth struct {
	Token string
}

func (b BearerAuth) AuthHeaders(ctx context.Context) (AuthHeaders, error) {
	if b.Token == "" {
		return AuthHeaders{}, fmt.Errorf("facilitator: bearer token is empty")
	}
	headers := map[string]string{
		"Authorization":       "Bearer " + b.Token,
		"Correlation-Context": correlationHeader(),
	}
	return AuthHeaders{Verify: headers, Settle: headers, Supported: headers}, nil
}

// EnvBearerAuth reads the bearer token from an environment variable on each
// request, so rotated credentials are picked up without a restart.
type EnvBearerAuth struct {
	// Variable names the environment variable holding the token. Defaults
	// to X402_FACILITATOR_TOKEN.
	Variable string
}

func (e EnvBearerAuth) AuthHeaders(ctx context.Context) (AuthHeaders, error) {
	variable := e.Variable
	if variable == "" {
		variable = "X402_FACILITATOR_TOKEN"
	}
	token := os.Getenv(variable)
	if token == "" {
		return AuthHeaders{}, fmt.Errorf("facilitator: %s is not set", variable)
	}
	return BearerAuth{Token: token}.AuthHeaders(ctx)
}

func correlationHeader() string {
	return "correlation_id=" + uuid.NewString()
}
