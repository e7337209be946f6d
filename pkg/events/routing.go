package events

// Broker topology names shared by the publisher and the consumer. One
// durable topic exchange per deployment, three queues per consumed event
// type: main, retry (TTL-delayed, dead-letters back to main) and DLQ.
const (
	DefaultExchange = "orders"

	RoutingKeyOrderCreated   = "orders.created.v1"
	RoutingKeyOrderCompleted = "orders.completed.v1"
	RoutingKeyOrderFailed    = "orders.failed.v1"
	RoutingKeyUnknown        = "orders.unknown"

	RoutingKeyOrderCreatedRetry = "orders.created.v1.retry"
	RoutingKeyOrderCreatedDLQ   = "orders.created.v1.dlq"

	QueueOrderCreated      = "orderflow.orders.created.v1"
	QueueOrderCreatedRetry = "orderflow.orders.created.v1.retry"
	QueueOrderCreatedDLQ   = "orderflow.orders.created.v1.dlq"
)

// ResolveRoutingKey maps an event type tag to its outgoing routing key.
// Unrecognized tags route to the catch-all key instead of failing the
// publish.
func ResolveRoutingKey(eventType string) string {
	switch eventType {
	case TypeOrderCreatedV1:
		return RoutingKeyOrderCreated
	case TypeOrderCompletedV1:
		return RoutingKeyOrderCompleted
	case TypeOrderFailedV1:
		return RoutingKeyOrderFailed
	default:
		return RoutingKeyUnknown
	}
}
