package swagger

import (
	"context"
	"fmt"
	"net/http"

	"github.com/frahmantamala/courier-backoffice/api"
	"github.com/getkin/kin-openapi/openapi3"
	httpSwagger "github.com/swaggo/http-swagger"
)

const DocumentPath = "/openapi.json"

// Load parses and validates the embedded OpenAPI document.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(api.OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// DocumentHandler serves doc as JSON.
func DocumentHandler(doc *openapi3.T) (http.Handler, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}), nil
}

func Handler() http.Handler {
	return httpSwagger.Handler(
		httpSwagger.URL(DocumentPath),
	)
}
