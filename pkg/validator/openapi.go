package validator

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var schema []byte

// OpenAPIValidator validates REST requests against the embedded OpenAPI document
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// New loads the embedded schema
func New() (*OpenAPIValidator, error) {
	return NewFromData(schema)
}

// NewFromData builds a validator from an OpenAPI document
func NewFromData(data []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{doc: doc, router: router}, nil
}

// Middleware rejects requests that do not match the schema. Routes the
// schema does not describe pass through.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			_ = c.Error(errors.NewValidationError(describe(err)))
			c.Abort()
			return
		}

		c.Next()
	}
}

// describe shortens kin-openapi errors to the failing parameter or body reason
func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if stderrors.As(err, &reqErr) {
		switch {
		case reqErr.Parameter != nil:
			return fmt.Sprintf("invalid %s parameter %q: %s", reqErr.Parameter.In, reqErr.Parameter.Name, reason(reqErr))
		case reqErr.RequestBody != nil:
			return "invalid request body: " + reason(reqErr)
		}
	}
	return "invalid request: " + err.Error()
}

func reason(reqErr *openapi3filter.RequestError) string {
	if reqErr.Reason != "" {
		return reqErr.Reason
	}
	if reqErr.Err != nil {
		msg := reqErr.Err.Error()
		if i := strings.IndexByte(msg, '\n'); i > 0 {
			msg = msg[:i]
		}
		return msg
	}
	return "does not match schema"
}
