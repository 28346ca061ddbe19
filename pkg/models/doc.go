/*
Package models defines the persisted records of the reliability tracker: the
gateway clients whose SMS delivery is being measured and the individual
reliability tests run against them.

Core Types:

GatewayClient is a phone number registered with the SMS gateway:

	type GatewayClient struct {
		MSISDN            string    // Phone number, primary key
		Country           string    // Country the number is registered in
		Operator          string    // Mobile network operator name
		OperatorCode      string    // Operator MCC/MNC code
		Protocols         Protocols // Supported protocol tags
		Reliability       float64   // Last computed score, 0.00-100.00
		LastPublishedDate time.Time // When the client last published itself
	}

ReliabilityTest is a single round-trip measurement for a client:

	type ReliabilityTest struct {
		ID              string     // Opaque identifier (UUID)
		StartTime       time.Time  // When the test was created
		SMSSentTime     *time.Time // When the test SMS was sent
		SMSReceivedTime *time.Time // When the gateway received it
		SMSRoutedTime   *time.Time // When the completion was recorded
		Status          Status     // pending, success or timedout
		MSISDN          string     // Owning client
	}

Status transitions:

	pending -> success
	pending -> timedout

Both success and timedout are terminal. The three SMS timing fields are set
together, once, on the transition to success.

Database Integration:

The models carry both bun tags (Postgres store) and gorm tags (MySQL and
SQLite store). Table names are gateway_clients and reliability_tests; msisdn
is the join key between them.

Thread Safety:

The model structures are not thread-safe. Concurrent completions of the same
test are serialized by the store's row lock, not by these types.
*/
package models
