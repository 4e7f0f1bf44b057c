package model

import "encoding/json"

// ClientRecord is one downstream client entry from the registry service.
// Only the endpoint address is ever rewritten; every other field is carried
// opaquely in Raw and passed back unchanged on update.
type ClientRecord struct {
	ID       int64           `json:"id"`
	Alias    string          `json:"alias"`
	Endpoint string          `json:"endpoint"`
	Raw      json.RawMessage `json:"-"`
}
