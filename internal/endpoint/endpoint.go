package endpoint

import "context"

// Endpoint is the base contract every connector must implement, regardless
// of which capability traits it additionally composes.
type Endpoint interface {
	// ID returns the unique template identifier (e.g. "mock.source").
	ID() string

	// ValidateConfig tests configuration validity and, where cheap,
	// connectivity.
	ValidateConfig(ctx context.Context, config map[string]any) (*ValidationResult, error)

	// GetCapabilities returns the set of supported operations.
	GetCapabilities() *Capabilities

	// GetDescriptor returns metadata about this endpoint type.
	GetDescriptor() *Descriptor

	// Close releases any resources held by the endpoint.
	Close() error
}

// SourceEndpoint can read data from an external system.
type SourceEndpoint interface {
	Endpoint

	ListDatasets(ctx context.Context) ([]*Dataset, error)
	GetSchema(ctx context.Context, datasetID string) (*Schema, error)
	Read(ctx context.Context, req *ReadRequest) (Iterator[Record], error)
}

// SinkEndpoint can write data to an external system.
type SinkEndpoint interface {
	Endpoint

	WriteRaw(ctx context.Context, req *WriteRequest) (*WriteResult, error)
	Finalize(ctx context.Context, datasetID string, loadDate string) (*FinalizeResult, error)
	GetLatestWatermark(ctx context.Context, datasetID string) (string, error)
}

// ActionEndpoint can execute control-plane actions.
type ActionEndpoint interface {
	Endpoint

	ListActions(ctx context.Context) ([]*ActionDescriptor, error)
	GetActionSchema(ctx context.Context, actionID string) (*ActionSchema, error)
	ExecuteAction(ctx context.Context, req *ActionRequest) (*ActionResult, error)
}
