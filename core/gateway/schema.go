package gateway

import (
	_ "embed"

	"github.com/mintforge/mintd/core/infra/schema"
)

//go:embed mint_request.schema.json
var mintRequestSchema []byte

var mintRequestCompiled = schema.MustCompile("mint-request", mintRequestSchema)

// validateMintRequest checks an issuance request body before it is
// decoded, so malformed payloads fail with a precise message.
func validateMintRequest(body []byte) error {
	return schema.ValidateCompiled(mintRequestCompiled, body)
}
