package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// GreetEndpoint is the endpoint for submitting an anonymous greeting
	GreetEndpoint = "/greet"
	// GreetReceiptEndpoint returns the forwarding receipt of a greeting by
	// the id the relay assigned to it
	GreetURLParam        = "id"
	GreetReceiptEndpoint = "/greet/{" + GreetURLParam + "}"
	// CensusRootEndpoint returns the current membership root
	CensusRootEndpoint = "/census/root"
	// CensusCommitmentsEndpoint publishes the ordered membership list (GET)
	// and registers new identity commitments (POST)
	CensusCommitmentsEndpoint = "/census/commitments"
	// MetricsEndpoint exposes the relay Prometheus metrics
	MetricsEndpoint = "/metrics"
)
