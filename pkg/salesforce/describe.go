package salesforce

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// decodeDescription reads a describe response body. Only the fields the lead
// store checks are kept.
func decodeDescription(r io.Reader) (*SObjectDescription, error) {
	var desc SObjectDescription
	if err := json.NewDecoder(r).Decode(&desc); err != nil {
		return nil, eris.Wrap(err, "decode describe")
	}
	return &desc, nil
}

// UpdateableFields lists the names of fields that accept partial updates.
func (d *SObjectDescription) UpdateableFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Updateable {
			names = append(names, f.Name)
		}
	}
	return names
}
