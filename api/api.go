// Package api embeds the OpenAPI document of the service.
package api

import _ "embed"

//go:embed openapi.yml
var OpenAPI []byte
