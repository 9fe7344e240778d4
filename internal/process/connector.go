// Package process starts and cancels milestone release workflows on the
// external workflow engine.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request starts one workflow process instance.
type Request struct {
	ProcessID     string
	Parameters    map[string]any
	CorrelationID string
	// Credential is the caller's bearer token, forwarded to the engine.
	Credential string
}

// Connector is a workflow engine client. Every call opens its own session
// and releases it before returning.
type Connector interface {
	StartProcess(ctx context.Context, req Request) error
	CancelByCorrelation(ctx context.Context, correlationID, credential string) error
}

// ErrorKind classifies connector failures.
type ErrorKind string

const (
	// KindBusiness is a request the engine refused, or one that could not be
	// made at all, such as an expired credential.
	KindBusiness ErrorKind = "business"
	// KindTransport is an unreachable or failing engine.
	KindTransport ErrorKind = "transport"
)

// ErrCredentialExpired is wrapped by the business error returned for an
// expired credential.
var ErrCredentialExpired = errors.New("credential expired")

// ConnectorError is returned by every Connector method.
type ConnectorError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("workflow engine %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

func businessError(op string, err error) error {
	return &ConnectorError{Kind: KindBusiness, Op: op, Err: err}
}

func transportError(op string, err error) error {
	return &ConnectorError{Kind: KindTransport, Op: op, Err: err}
}

// checkCredential rejects credentials whose exp claim has passed. The engine
// verifies the signature; only expiry is checked here so an expired token
// fails before any network call.
func checkCredential(token string, now time.Time) error {
	if token == "" {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("parsing credential: %w", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return ErrCredentialExpired
	}
	return nil
}

// encodeParameters renders process parameters as protobuf JSON.
func encodeParameters(params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	s, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encoding process parameters: %w", err)
	}
	return protojson.Marshal(s)
}
