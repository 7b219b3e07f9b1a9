package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atmx/valuation-engine/internal/model"
)

// DecodeInput parses a boundary input document. A malformed document yields
// ErrSerialization; a malformed amount yields ErrInvalidMoney.
func DecodeInput(doc []byte) (model.Input, error) {
	var in model.Input
	if err := json.Unmarshal(doc, &in); err != nil {
		if errors.Is(err, ErrInvalidMoney) {
			return model.Input{}, err
		}
		return model.Input{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return in, nil
}

// EncodeOutput renders an NPV result as a boundary document.
func EncodeOutput(out model.Output) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// NPVDocument decodes doc, runs NPV and encodes the result.
func NPVDocument(doc []byte) ([]byte, error) {
	in, err := DecodeInput(doc)
	if err != nil {
		return nil, err
	}
	out, err := NPV(in)
	if err != nil {
		return nil, err
	}
	return EncodeOutput(out)
}

// IRRDocument decodes doc and returns its IRR in basis points.
func IRRDocument(doc []byte) (int32, error) {
	in, err := DecodeInput(doc)
	if err != nil {
		return 0, err
	}
	return IRR(in)
}
