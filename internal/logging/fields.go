package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Connection
	FieldClientAddr = "client_addr"
	FieldConnID     = "conn_id"
	FieldTransport  = "transport"
	FieldUsername   = "username"
	FieldRoom       = "room"
	FieldEvent      = "event"

	FieldService   = "service"
	FieldComponent = "component"
)
