package grpcapi

// Wire messages for the hand-rolled OperationService (see codec.go). Field
// names are snake_case to match spec.md's own vocabulary and what a real
// .proto for this service would generate.
type StartOperationRequest struct {
	UserID     string                 `json:"user_id"`
	Tier       string                 `json:"tier"`
	AssetID    string                 `json:"asset_id"`
	Kind       string                 `json:"kind"`
	Parameters map[string]interface{} `json:"parameters"`
}

type OperationResponse struct {
	ID           string                 `json:"id"`
	AssetID      string                 `json:"asset_id"`
	Kind         string                 `json:"kind"`
	Status       string                 `json:"status"`
	Parameters   map[string]interface{} `json:"parameters"`
	Cost         int64                  `json:"cost"`
	ResultPath   string                 `json:"result_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

type GetOperationRequest struct {
	UserID      string `json:"user_id"`
	OperationID string `json:"operation_id"`
}

type GetBalanceRequest struct {
	UserID string `json:"user_id"`
}

type GetBalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type SubscribeProgressRequest struct {
	OperationID string `json:"operation_id"`
}

type ProgressUpdate struct {
	OperationID string `json:"operation_id"`
	Percent     int    `json:"percent"`
}

type CancelOperationRequest struct {
	OperationID string `json:"operation_id"`
}

type CancelOperationResponse struct {
	OperationID string `json:"operation_id"`
}

// SubscribeEventsRequest scopes a subscribe_events stream (spec.md §6): an
// empty OperationID subscribes to every operation, and Pattern follows
// events.Registry's exact-or-trailing-wildcard matching ("*" when empty).
type SubscribeEventsRequest struct {
	OperationID string `json:"operation_id"`
	Pattern     string `json:"pattern"`
}

type EventUpdate struct {
	OperationID string                 `json:"operation_id"`
	Type        string                 `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
}
