// Package transport defines the wire boundary of the ERP client: a channel
// that performs exactly one round trip, the entity codec, and the typed
// failures the retry core classifies.
package transport

import (
	"context"

	"github.com/cordala/erpbridge/pkg/auth"
)

// Request is one opaque service invocation: the gateway service name plus a
// pre-encoded body. The orchestration core never inspects the body.
type Request struct {
	Service string
	Body    []byte
}

// Response is the raw gateway reply for a successful round trip.
type Response struct {
	StatusCode int
	Body       []byte
}

// Channel executes one request against the remote gateway. Implementations
// perform a single round trip: no retry, no interpretation of business-level
// failure codes beyond surfacing them as *Fault.
type Channel interface {
	Send(ctx context.Context, cred auth.Credential, req Request) (Response, error)
}

// Entity is one domain record exchanged with the gateway. The orchestration
// core treats entities as opaque; only the codec knows their shape.
type Entity interface {
	EntityName() string
}

// Keyed is implemented by entities that can report whether their primary key
// fields are populated. Used to distinguish updates from creates when a batch
// failure is reported.
type Keyed interface {
	HasKeys() bool
}

// PageMeta is the pagination metadata a codec extracts from a response.
// Zero values mean "not reported by the server".
type PageMeta struct {
	PageNumber   int
	ItemCount    int
	TotalPages   int
	TotalRecords int
	PagerID      string
}

// Codec translates between entities and the gateway wire format. Encode
// produces a request body for one or more entities; Decode extracts the
// entities and page metadata from a raw response.
type Codec interface {
	Encode(entities ...Entity) ([]byte, error)
	Decode(resp Response) ([]Entity, PageMeta, error)
}
