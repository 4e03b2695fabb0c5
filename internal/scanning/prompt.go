package scanning

import (
	"fmt"

	"github.com/zombor/docextract/internal/record"
)

const userPromptPrefix = "Extract the data from this document. If a value is not present, provide null. Use the following structure:"

// BuildRequest assembles the model request for a schema and its strip images
func BuildRequest(schema *record.Schema, images []Image) (Request, error) {
	template, err := schema.Default().MarshalJSON()
	if err != nil {
		return Request{}, fmt.Errorf("marshaling record template: %w", err)
	}
	return Request{
		Instruction: schema.Instruction,
		Prompt:      userPromptPrefix + string(template),
		Images:      images,
	}, nil
}
